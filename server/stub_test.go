package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/onnwee/guildbot/db"
	"github.com/onnwee/guildbot/magick"
)

// stubEngine returns an engine whose convert and identify binaries are shell scripts.
func stubEngine(t *testing.T, convertBody, identifyBody string) *magick.Engine {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
			t.Fatalf("write stub: %v", err)
		}
		return path
	}
	opts := magick.Options{Kind: magick.KindImageMagick, WaitDelay: 200 * time.Millisecond}
	if convertBody != "" {
		opts.ConvertPath = write("convert", convertBody)
	}
	if identifyBody != "" {
		opts.IdentifyPath = write("identify", identifyBody)
	}
	return magick.New(opts)
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type fakeGuilds struct {
	guilds []db.Guild
	err    error
}

func (f fakeGuilds) ListGuilds(context.Context) ([]db.Guild, error) { return f.guilds, f.err }

type fakeCounts map[string]int64

func (f fakeCounts) LoadCounts(context.Context) (map[string]int64, bool, error) {
	if f == nil {
		return nil, false, errors.New("counts unavailable")
	}
	return f, true, nil
}

type savedToken struct {
	provider, access, refresh, scope string
	expiry                           time.Time
}

type fakeTokens struct{ saved []savedToken }

func (f *fakeTokens) UpsertOAuthToken(_ context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	f.saved = append(f.saved, savedToken{provider, access, refresh, scope, expiry})
	return nil
}
