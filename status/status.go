// Package status rotates the bot's channel status line through a pool of
// messages, always advertising the help command.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/onnwee/guildbot/telemetry"
)

// Setter applies a status line.
type Setter interface {
	SetStatus(ctx context.Context, text string) error
}

// Rotator picks a message and builds the status text.
type Rotator struct {
	BotName  string
	Messages []string
	// Pick returns an index in [0, n). Defaults to math/rand.
	Pick func(n int) int
}

// Text returns "<message> | @<bot> help" for a random message of the pool.
func (r *Rotator) Text() string {
	if len(r.Messages) == 0 {
		return fmt.Sprintf("@%s help", r.BotName)
	}
	pick := r.Pick
	if pick == nil {
		pick = rand.IntN
	}
	return fmt.Sprintf("%s | @%s help", r.Messages[pick(len(r.Messages))], r.BotName)
}

// Rotate sets one new status.
func (r *Rotator) Rotate(ctx context.Context, s Setter) error {
	text := r.Text()
	if err := s.SetStatus(ctx, text); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	telemetry.Inc(telemetry.StatusUpdates)
	slog.Debug("status updated", slog.String("status", text), slog.String("component", "status"))
	return nil
}

// StartRotationJob sets the status immediately and then every interval until ctx is done.
func StartRotationJob(ctx context.Context, s Setter, r *Rotator, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	slog.Info("status rotation starting", slog.Duration("interval", interval), slog.Int("messages", len(r.Messages)), slog.String("component", "status"))

	if err := r.Rotate(ctx, s); err != nil {
		slog.Warn("status rotation failed", slog.Any("err", err), slog.String("component", "status"))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("status rotation stopped", slog.String("component", "status"))
			return
		case <-ticker.C:
			if err := r.Rotate(ctx, s); err != nil {
				slog.Warn("status rotation failed", slog.Any("err", err), slog.String("component", "status"))
			}
		}
	}
}
