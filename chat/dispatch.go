package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/guildbot/commands"
	"github.com/onnwee/guildbot/db"
	"github.com/onnwee/guildbot/magick"
	"github.com/onnwee/guildbot/telemetry"
)

// GuildLookup loads a guild record; nil when the guild is not registered yet.
type GuildLookup interface {
	GetGuild(ctx context.Context, id string) (*db.Guild, error)
}

// Message is one chat line addressed to the bot.
type Message struct {
	Channel   string
	User      string
	Text      string
	Moderator bool
}

// Dispatcher turns chat lines into command runs.
type Dispatcher struct {
	Registry      *commands.Registry
	Guilds        GuildLookup
	Counter       *commands.Counter
	BotName       string
	DefaultPrefix string
	// Timeout bounds a single command run.
	Timeout time.Duration
}

// parse splits text into a command name and arguments when it starts with
// prefix or with an @mention of the bot.
func (d *Dispatcher) parse(text, prefix string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	switch {
	case prefix != "" && strings.HasPrefix(text, prefix):
		text = strings.TrimPrefix(text, prefix)
	case d.BotName != "" && len(text) > len(d.BotName)+1 && strings.EqualFold(text[:len(d.BotName)+1], "@"+d.BotName) &&
		text[len(d.BotName)+1] == ' ':
		text = text[len(d.BotName)+1:]
	default:
		return "", nil, false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Handle runs the command in m, if any, and returns the reply to send.
// ok is false when the line is not a command for the bot.
func (d *Dispatcher) Handle(ctx context.Context, m Message) (reply string, ok bool) {
	guildID := strings.ToLower(strings.TrimPrefix(m.Channel, "#"))
	g, err := d.Guilds.GetGuild(ctx, guildID)
	if err != nil {
		slog.Error("load guild", slog.String("guild", guildID), slog.Any("err", err), slog.String("component", "chat"))
		return "", false
	}
	if g == nil {
		g = &db.Guild{ID: guildID, Prefix: d.DefaultPrefix, Tags: map[string]string{}}
	}
	prefix := g.Prefix
	if prefix == "" {
		prefix = d.DefaultPrefix
		g.Prefix = prefix
	}

	name, args, ok := d.parse(m.Text, prefix)
	if !ok {
		return "", false
	}
	cmd, found := d.Registry.Lookup(name)
	if !found {
		return "", false
	}
	if slices.Contains(g.DisabledChannels, guildID) && cmd.Name != "enable" {
		return "", false
	}
	if cmd.ModOnly && !m.Moderator {
		return fmt.Sprintf("@%s only moderators can use %s%s", m.User, prefix, cmd.Name), true
	}

	runCtx := telemetry.WithCorrelation(ctx, uuid.NewString())
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, d.Timeout)
		defer cancel()
	}
	if err := d.Counter.Increment(ctx, cmd.Name); err != nil {
		slog.Warn("increment command counter", slog.String("command", cmd.Name), slog.Any("err", err), slog.String("component", "chat"))
	}

	out, err := cmd.Run(runCtx, &commands.Invocation{Guild: g, Channel: guildID, User: m.User, Moderator: m.Moderator, Args: args})
	switch {
	case err == nil:
		if out == "" {
			return "", true
		}
		return fmt.Sprintf("@%s %s", m.User, out), true
	case errors.Is(err, commands.ErrUsage):
		return fmt.Sprintf("@%s usage: %s%s", m.User, prefix, cmd.Usage), true
	default:
		telemetry.LoggerWithCorr(runCtx).Error("command failed", slog.String("command", cmd.Name), slog.String("guild", guildID), slog.Any("err", err), slog.String("component", "chat"))
		if diag := magick.Diagnostic(err); diag != "" {
			return fmt.Sprintf("@%s that image didn't work: %s", m.User, firstLine(diag)), true
		}
		return fmt.Sprintf("@%s something went wrong running %s", m.User, cmd.Name), true
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
