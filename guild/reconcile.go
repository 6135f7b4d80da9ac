// Package guild keeps the stored guild records in step with the channels the
// bot is actually in: Reconcile registers and repairs records at startup and
// the stale cleanup job prunes records for channels the bot has left.
package guild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/onnwee/guildbot/db"
	"github.com/onnwee/guildbot/telemetry"
)

// Store is the subset of db.GuildStore the guild jobs need.
type Store interface {
	ListGuilds(ctx context.Context) ([]db.Guild, error)
	GetGuild(ctx context.Context, id string) (*db.Guild, error)
	InsertGuild(ctx context.Context, g db.Guild) error
	SetWarns(ctx context.Context, id string, warns map[string][]string) error
	SetDisabledChannels(ctx context.Context, id string, channels []string) error
	DeleteGuild(ctx context.Context, id string) error
}

// Defaults seeds newly registered guilds.
type Defaults struct {
	Prefix string
	Tags   map[string]string
}

// Result summarises one reconciliation pass.
type Result struct {
	Registered []string
	Repaired   []string
}

// Reconcile makes sure every live guild has a usable record. Missing records
// are created from defaults. An existing record gets at most one repair per
// pass: a null warns map is reset first, and only a record with warns intact
// has a null disabled channel list reset. Running it again finishes any
// remaining repair. Errors for one guild do not stop the others.
func Reconcile(ctx context.Context, store Store, guildIDs []string, defaults Defaults) (Result, error) {
	var (
		res  Result
		errs []error
	)
	for _, id := range guildIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		g, err := store.GetGuild(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", id, err))
			continue
		}
		switch {
		case g == nil:
			slog.Info("registering guild", slog.String("guild", id), slog.String("component", "guild"))
			rec := db.Guild{
				ID:               id,
				Tags:             maps.Clone(defaults.Tags),
				Prefix:           defaults.Prefix,
				Warns:            map[string][]string{},
				DisabledChannels: []string{},
			}
			if rec.Tags == nil {
				rec.Tags = map[string]string{}
			}
			if err := store.InsertGuild(ctx, rec); err != nil {
				errs = append(errs, fmt.Errorf("register guild %s: %w", id, err))
				continue
			}
			res.Registered = append(res.Registered, id)
			telemetry.Inc(telemetry.GuildsRegistered)
		case g.Warns == nil:
			slog.Info("setting missing warns object", slog.String("guild", id), slog.String("component", "guild"))
			if err := store.SetWarns(ctx, id, map[string][]string{}); err != nil {
				errs = append(errs, fmt.Errorf("repair warns %s: %w", id, err))
				continue
			}
			res.Repaired = append(res.Repaired, id)
			telemetry.Inc(telemetry.GuildsRepaired)
		case g.DisabledChannels == nil:
			slog.Info("setting missing disabled channel list", slog.String("guild", id), slog.String("component", "guild"))
			if err := store.SetDisabledChannels(ctx, id, []string{}); err != nil {
				errs = append(errs, fmt.Errorf("repair disabled channels %s: %w", id, err))
				continue
			}
			res.Repaired = append(res.Repaired, id)
			telemetry.Inc(telemetry.GuildsRepaired)
		}
	}
	telemetry.SetGuilds(len(guildIDs))
	return res, errors.Join(errs...)
}
