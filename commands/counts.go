package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/onnwee/guildbot/telemetry"
)

// CountStore is the subset of db.CountStore used for the global counters.
type CountStore interface {
	LoadCounts(ctx context.Context) (map[string]int64, bool, error)
	SaveCounts(ctx context.Context, counts map[string]int64) error
	IncrementCount(ctx context.Context, name string) error
}

// SyncCounts makes sure the global counter record exists and has an entry for
// every name. Existing counts are never reset. It returns the names it added.
func SyncCounts(ctx context.Context, store CountStore, names []string) ([]string, error) {
	counts, exists, err := store.LoadCounts(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		slog.Info("creating global command counters", slog.Int("commands", len(names)), slog.String("component", "commands"))
	}
	if counts == nil {
		counts = make(map[string]int64, len(names))
	}
	var added []string
	for _, n := range names {
		if _, ok := counts[n]; !ok {
			counts[n] = 0
			added = append(added, n)
		}
	}
	if exists && len(added) == 0 {
		return nil, nil
	}
	if err := store.SaveCounts(ctx, counts); err != nil {
		return nil, fmt.Errorf("sync command counts: %w", err)
	}
	sort.Strings(added)
	if exists {
		slog.Info("added command counters", slog.Any("commands", added), slog.String("component", "commands"))
	}
	return added, nil
}

// Counter records command invocations in the store and in metrics.
type Counter struct {
	Store CountStore
}

// Increment adds one to name's global counter.
func (c *Counter) Increment(ctx context.Context, name string) error {
	telemetry.CountCommand(name)
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.IncrementCount(ctx, name)
}
