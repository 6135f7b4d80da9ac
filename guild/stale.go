package guild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/guildbot/telemetry"
)

// Weekly is a once-a-week wall clock time in the local zone.
type Weekly struct {
	Day    time.Weekday
	Hour   int
	Minute int
}

// DefaultWeekly is Sunday at midnight.
var DefaultWeekly = Weekly{Day: time.Sunday}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekly accepts "sun 00:00" or the five field cron form "0 0 * * 0"
// (minute hour, wildcards for day of month and month, weekday 0-6).
func ParseWeekly(s string) (Weekly, error) {
	fields := strings.Fields(strings.ToLower(s))
	switch len(fields) {
	case 2:
		day, ok := weekdays[fields[0][:min(3, len(fields[0]))]]
		if !ok {
			return Weekly{}, fmt.Errorf("schedule %q: unknown weekday %q", s, fields[0])
		}
		hh, mm, ok := strings.Cut(fields[1], ":")
		if !ok {
			return Weekly{}, fmt.Errorf("schedule %q: want HH:MM", s)
		}
		return newWeekly(s, day, hh, mm)
	case 5:
		if fields[2] != "*" || fields[3] != "*" {
			return Weekly{}, fmt.Errorf("schedule %q: only weekly schedules are supported", s)
		}
		d, err := strconv.Atoi(fields[4])
		if err != nil || d < 0 || d > 7 {
			return Weekly{}, fmt.Errorf("schedule %q: bad weekday %q", s, fields[4])
		}
		return newWeekly(s, time.Weekday(d%7), fields[1], fields[0])
	}
	return Weekly{}, fmt.Errorf("schedule %q: want \"sun 00:00\" or \"0 0 * * 0\"", s)
}

func newWeekly(src string, day time.Weekday, hh, mm string) (Weekly, error) {
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return Weekly{}, fmt.Errorf("schedule %q: bad hour %q", src, hh)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return Weekly{}, fmt.Errorf("schedule %q: bad minute %q", src, mm)
	}
	return Weekly{Day: day, Hour: h, Minute: m}, nil
}

// Next returns the first occurrence strictly after now, in now's location.
func (w Weekly) Next(now time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), w.Hour, w.Minute, 0, 0, now.Location())
	t = t.AddDate(0, 0, (int(w.Day)-int(t.Weekday())+7)%7)
	if !t.After(now) {
		t = t.AddDate(0, 0, 7)
	}
	return t
}

func (w Weekly) String() string {
	return fmt.Sprintf("%s %02d:%02d", w.Day.String()[:3], w.Hour, w.Minute)
}

// ErrNoLiveGuilds is returned by PruneStale for an empty live set, which means
// the bot does not know its channels rather than that it left all of them.
var ErrNoLiveGuilds = errors.New("guild: no live guilds, refusing to prune")

// PruneStale deletes stored guilds whose id is not in live and returns the deleted ids.
func PruneStale(ctx context.Context, store Store, live []string) ([]string, error) {
	if len(live) == 0 {
		return nil, ErrNoLiveGuilds
	}
	slog.Info("Deleting stale guild entries", slog.String("component", "guild"))
	keep := make(map[string]struct{}, len(live))
	for _, id := range live {
		keep[id] = struct{}{}
	}
	stored, err := store.ListGuilds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	var deleted []string
	for _, g := range stored {
		if _, ok := keep[g.ID]; ok {
			continue
		}
		if err := store.DeleteGuild(ctx, g.ID); err != nil {
			return deleted, fmt.Errorf("delete guild %s: %w", g.ID, err)
		}
		slog.Info("deleted stale guild entry", slog.String("guild", g.ID), slog.String("component", "guild"))
		telemetry.Inc(telemetry.GuildsPruned)
		deleted = append(deleted, g.ID)
	}
	slog.Info("stale guild cleanup finished", slog.Int("deleted", len(deleted)), slog.String("component", "guild"))
	return deleted, nil
}

// StartStaleCleanupJob prunes stale guild records at every occurrence of sched
// until ctx is cancelled. live is consulted at each run.
func StartStaleCleanupJob(ctx context.Context, store Store, live func() []string, sched Weekly) {
	slog.Info("stale guild cleanup job starting", slog.String("schedule", sched.String()), slog.String("component", "guild"))
	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("stale guild cleanup job stopped", slog.String("component", "guild"))
			return
		case <-timer.C:
		}
		if _, err := PruneStale(ctx, store, live()); err != nil {
			slog.Error("stale guild cleanup failed", slog.Any("err", err), slog.String("component", "guild"))
		}
	}
}
