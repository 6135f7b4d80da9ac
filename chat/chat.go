package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/guildbot/config"
)

// TitleSetter changes the broadcast title of a channel.
type TitleSetter interface {
	ModifyChannelTitle(ctx context.Context, broadcasterID, title string) error
}

// Client is the bot's Twitch presence: an IRC connection to the configured
// channels (the bot's guilds) plus the Helix client used for the status line.
type Client struct {
	irc           *twitch.Client
	channels      []string
	dispatcher    *Dispatcher
	titles        TitleSetter
	broadcasterID string

	mu     sync.RWMutex
	joined map[string]bool
}

// New builds a client for cfg's bot account and channels. titles may be nil,
// in which case SetStatus fails.
func New(cfg *config.Config, d *Dispatcher, titles TitleSetter) *Client {
	c := &Client{
		irc:           twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken),
		channels:      slices.Clone(cfg.TwitchChannels),
		dispatcher:    d,
		titles:        titles,
		broadcasterID: cfg.TwitchBroadcasterID,
		joined:        map[string]bool{},
	}
	c.irc.OnSelfJoinMessage(func(m twitch.UserJoinMessage) {
		c.mu.Lock()
		c.joined[m.Channel] = true
		c.mu.Unlock()
		slog.Info("joined channel", slog.String("channel", m.Channel), slog.String("component", "chat"))
	})
	c.irc.OnSelfPartMessage(func(m twitch.UserPartMessage) {
		c.mu.Lock()
		delete(c.joined, m.Channel)
		c.mu.Unlock()
	})
	return c
}

// SetBroadcasterID sets the channel whose title SetStatus changes.
func (c *Client) SetBroadcasterID(id string) { c.broadcasterID = id }

// Guilds returns the channels the bot serves.
func (c *Client) Guilds() []string { return slices.Clone(c.channels) }

// Joined reports whether the bot has joined channel.
func (c *Client) Joined(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joined[channel]
}

// Connected reports whether the bot is in at least one channel.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.joined) > 0
}

// Say sends text to channel.
func (c *Client) Say(channel, text string) { c.irc.Say(channel, text) }

// SetStatus sets the bot's status line, which on Twitch is the broadcaster's stream title.
func (c *Client) SetStatus(ctx context.Context, text string) error {
	if c.titles == nil || c.broadcasterID == "" {
		return errors.New("status updates need TWITCH_CLIENT_ID and a broadcaster id")
	}
	return c.titles.ModifyChannelTitle(ctx, c.broadcasterID, text)
}

// FromPrivateMessage converts an IRC message, marking the broadcaster and moderators.
func FromPrivateMessage(m twitch.PrivateMessage) Message {
	_, mod := m.User.Badges["moderator"]
	_, owner := m.User.Badges["broadcaster"]
	return Message{Channel: m.Channel, User: m.User.Name, Text: m.Message, Moderator: mod || owner}
}

// Connect joins the channels and returns once the connection is up. Commands
// are dispatched on ctx; cancelling it disconnects.
func (c *Client) Connect(ctx context.Context) error {
	if len(c.channels) == 0 {
		return errors.New("no channels configured")
	}
	ready := make(chan struct{})
	var once sync.Once
	c.irc.OnConnect(func() { once.Do(func() { close(ready) }) })
	c.irc.OnPrivateMessage(func(m twitch.PrivateMessage) {
		go func() {
			if reply, ok := c.dispatcher.Handle(ctx, FromPrivateMessage(m)); ok && reply != "" {
				c.Say(m.Channel, reply)
			}
		}()
	})
	c.irc.Join(c.channels...)

	errCh := make(chan error, 1)
	go func() { errCh <- c.irc.Connect() }()
	go func() {
		<-ctx.Done()
		_ = c.irc.Disconnect()
	}()

	select {
	case <-ready:
		slog.Info("twitch chat connected", slog.Int("channels", len(c.channels)), slog.String("component", "chat"))
		go func() {
			if err := <-errCh; err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
				slog.Error("twitch chat connection closed", slog.Any("err", err), slog.String("component", "chat"))
			}
		}()
		return nil
	case err := <-errCh:
		return fmt.Errorf("twitch chat connect: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return errors.New("twitch chat connect: timed out")
	}
}
