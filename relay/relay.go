// Package relay mirrors the bot onto a social live chat: it posts templated
// content on an interval and answers messages that mention the bot's handle.
package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/onnwee/guildbot/db"
	"github.com/onnwee/guildbot/telemetry"
	"github.com/onnwee/guildbot/youtubeapi"
)

// ErrActive is returned by Run when a relay is already running in this process.
var ErrActive = errors.New("relay already active")

// ErrNoTemplates is returned when no enabled template of the requested kind exists.
var ErrNoTemplates = errors.New("no enabled relay templates")

// DownloaderResponse answers people who mention the bot alongside a video downloader bot.
const DownloaderResponse = "I don't download videos. Try one of the downloader accounts you tagged instead."

// downloaderBots are handles of video downloader bots people confuse the bot with.
var downloaderBots = []string{"@this_vid", "@DownloaderBot", "@GetVideoBot", "@DownloaderB0t", "@thisvid_"}

var active atomic.Bool

// Transport posts to and reads from the social chat.
type Transport interface {
	Post(ctx context.Context, text string) error
	Messages(ctx context.Context, pageToken string) ([]youtubeapi.Message, string, error)
}

// Templates lists enabled templates by kind (db.TemplatePost or db.TemplateReply).
type Templates interface {
	ListTemplates(ctx context.Context, kind string) ([]string, error)
}

// Cursor persists the mention stream position across restarts.
type Cursor interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
}

// KVCursor stores the cursor in the kv table.
type KVCursor struct {
	DB  *sql.DB
	Key string
}

// Load returns the stored page token.
func (c KVCursor) Load(ctx context.Context) (string, error) { return db.GetKV(ctx, c.DB, c.key()) }

// Save stores the page token.
func (c KVCursor) Save(ctx context.Context, token string) error {
	return db.SetKV(ctx, c.DB, c.key(), token)
}

func (c KVCursor) key() string {
	if c.Key == "" {
		return "relay_page_token"
	}
	return c.Key
}

// Relay is one social relay instance.
type Relay struct {
	Transport Transport
	Templates Templates
	Cursor    Cursor

	// Handle is the bot's own handle without the leading @.
	Handle string
	// SelfID is the bot's author id on the platform, when known.
	SelfID string
	// Blocked holds lowercase author ids or names that never get replies.
	Blocked []string

	Interval     time.Duration
	PollInterval time.Duration

	// Pick returns an index in [0, n). Defaults to math/rand.
	Pick func(n int) int
}

func (r *Relay) pick(n int) int {
	if r.Pick != nil {
		return r.Pick(n)
	}
	return rand.IntN(n)
}

func (r *Relay) content(ctx context.Context, kind string) (string, error) {
	tpls, err := r.Templates.ListTemplates(ctx, kind)
	if err != nil {
		return "", err
	}
	if len(tpls) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoTemplates, kind)
	}
	return tpls[r.pick(len(tpls))], nil
}

// PostOnce posts one templated message. A duplicate rejection is retried once
// with fresh content; a second duplicate is returned so the caller can wait for
// the next tick.
func (r *Relay) PostOnce(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		text, err := r.content(ctx, db.TemplatePost)
		if err != nil {
			return err
		}
		err = r.Transport.Post(ctx, text)
		if err == nil {
			telemetry.CountRelay(db.TemplatePost, "ok")
			slog.Info("relay post published", slog.String("component", "relay"))
			return nil
		}
		if !IsDuplicate(err) {
			telemetry.CountRelay(db.TemplatePost, "error")
			return err
		}
		telemetry.CountRelay(db.TemplatePost, "duplicate")
		if attempt == 0 {
			slog.Debug("duplicate relay post, regenerating", slog.String("component", "relay"))
			continue
		}
		return err
	}
	return nil
}

func (r *Relay) post(ctx context.Context) {
	err := r.PostOnce(ctx)
	switch {
	case err == nil:
	case IsDuplicate(err):
		slog.Info("duplicate relay post, will retry next interval", slog.Duration("interval", r.Interval), slog.String("component", "relay"))
	default:
		slog.Error("relay post failed", slog.Any("err", err), slog.String("class", Classify(err).String()), slog.String("component", "relay"))
	}
}

// Mentions reports whether text mentions handle.
func Mentions(text, handle string) bool {
	if handle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(strings.TrimPrefix(handle, "@")))
}

// MentionsDownloader reports whether text tags one of the known downloader bots.
func MentionsDownloader(text string) bool {
	for _, h := range downloaderBots {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}

func (r *Relay) skip(m youtubeapi.Message) bool {
	handle := strings.ToLower(strings.TrimPrefix(r.Handle, "@"))
	if strings.EqualFold(strings.TrimPrefix(m.AuthorName, "@"), handle) {
		return true
	}
	if r.SelfID != "" && m.AuthorID == r.SelfID {
		return true
	}
	for _, b := range r.Blocked {
		if b == strings.ToLower(m.AuthorID) || b == strings.ToLower(m.AuthorName) {
			return true
		}
	}
	return false
}

// Reply builds the reply for m: "@<author> <content>".
func (r *Relay) Reply(ctx context.Context, m youtubeapi.Message) (string, error) {
	author := "@" + strings.TrimPrefix(m.AuthorName, "@")
	if MentionsDownloader(m.Text) {
		return author + " " + DownloaderResponse, nil
	}
	tpl, err := r.content(ctx, db.TemplateReply)
	if err != nil {
		return "", err
	}
	return author + " " + strings.ReplaceAll(tpl, "{{user}}", author), nil
}

// HandleMessage replies to m when it mentions the bot and its author is
// neither the bot itself nor blocked. It reports whether a reply was sent.
func (r *Relay) HandleMessage(ctx context.Context, m youtubeapi.Message) (bool, error) {
	if !Mentions(m.Text, r.Handle) || r.skip(m) {
		return false, nil
	}
	text, err := r.Reply(ctx, m)
	if err != nil {
		return false, err
	}
	if err := r.Transport.Post(ctx, text); err != nil {
		result := "error"
		if IsDuplicate(err) {
			result = "duplicate"
		}
		telemetry.CountRelay(db.TemplateReply, result)
		return false, err
	}
	telemetry.CountRelay(db.TemplateReply, "ok")
	slog.Info("relay reply posted", slog.String("message_id", m.ID), slog.String("author", m.AuthorName), slog.String("component", "relay"))
	return true, nil
}

// Poll reads new messages after the stored cursor and answers mentions. On the
// very first poll the backlog is skipped and only the cursor is recorded.
func (r *Relay) Poll(ctx context.Context) (int, error) {
	token, err := r.Cursor.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load relay cursor: %w", err)
	}
	msgs, next, err := r.Transport.Messages(ctx, token)
	if err != nil {
		return 0, err
	}
	replied := 0
	if token != "" {
		for _, m := range msgs {
			ok, err := r.HandleMessage(ctx, m)
			if err != nil {
				slog.Error("relay reply failed", slog.String("message_id", m.ID), slog.Any("err", err), slog.String("component", "relay"))
				continue
			}
			if ok {
				replied++
			}
		}
	}
	if next != "" && next != token {
		if err := r.Cursor.Save(ctx, next); err != nil {
			return replied, fmt.Errorf("save relay cursor: %w", err)
		}
	}
	return replied, nil
}

// Run posts immediately and every Interval, and polls for mentions every
// PollInterval, until ctx is done. Only one Run may be active per process.
func (r *Relay) Run(ctx context.Context) error {
	if !active.CompareAndSwap(false, true) {
		return ErrActive
	}
	defer active.Store(false)
	telemetry.SetRelayActive(true)
	defer telemetry.SetRelayActive(false)

	interval := r.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	r.Interval = interval
	poll := r.PollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}
	slog.Info("relay starting", slog.String("handle", r.Handle), slog.Duration("interval", interval), slog.Duration("poll_interval", poll), slog.String("component", "relay"))

	r.post(ctx)

	postTicker := time.NewTicker(interval)
	defer postTicker.Stop()
	pollTicker := time.NewTicker(poll)
	defer pollTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("relay stopped", slog.String("component", "relay"))
			return nil
		case <-postTicker.C:
			r.post(ctx)
		case <-pollTicker.C:
			if _, err := r.Poll(ctx); err != nil {
				slog.Warn("relay poll failed", slog.Any("err", err), slog.String("component", "relay"))
			}
		}
	}
}

// Active reports whether a relay is running in this process.
func Active() bool { return active.Load() }
