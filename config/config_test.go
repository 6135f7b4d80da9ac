package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DB_DSN", "DEFAULT_PREFIX", "MAGICK_ENGINE", "STATUS_INTERVAL", "RELAY_INTERVAL",
		"RELAY_ENABLED", "STALE_CLEANUP_SCHEDULE", "HTTP_ADDR", "MAX_UPLOAD_BYTES", "TWITCH_CHANNELS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DefaultPrefix != "&" {
		t.Errorf("DefaultPrefix = %q, want &", cfg.DefaultPrefix)
	}
	if cfg.MagickEngine != "imagemagick" {
		t.Errorf("MagickEngine = %q", cfg.MagickEngine)
	}
	if cfg.StatusInterval != 15*time.Minute {
		t.Errorf("StatusInterval = %v, want 15m", cfg.StatusInterval)
	}
	if cfg.RelayInterval != 30*time.Minute {
		t.Errorf("RelayInterval = %v, want 30m", cfg.RelayInterval)
	}
	if cfg.RelayEnabled {
		t.Error("relay should be disabled by default")
	}
	if cfg.StaleCleanupSchedule != "sun 00:00" {
		t.Errorf("StaleCleanupSchedule = %q", cfg.StaleCleanupSchedule)
	}
	if cfg.DBDsn == "" || cfg.HTTPAddr != ":8080" || cfg.MaxUploadBytes != 8<<20 {
		t.Errorf("unexpected defaults: dsn=%q addr=%q max=%d", cfg.DBDsn, cfg.HTTPAddr, cfg.MaxUploadBytes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TWITCH_CHANNELS", " #Alpha, beta ,,")
	t.Setenv("MAGICK_ENGINE", "GraphicsMagick")
	t.Setenv("STATUS_INTERVAL", "5m")
	t.Setenv("RELAY_ENABLED", "true")
	t.Setenv("RELAY_BLOCKED", "spam1,Spam2")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if want := []string{"alpha", "beta"}; !reflect.DeepEqual(cfg.TwitchChannels, want) {
		t.Errorf("TwitchChannels = %q, want %q", cfg.TwitchChannels, want)
	}
	if cfg.MagickEngine != "graphicsmagick" {
		t.Errorf("MagickEngine = %q", cfg.MagickEngine)
	}
	if cfg.StatusInterval != 5*time.Minute {
		t.Errorf("StatusInterval = %v", cfg.StatusInterval)
	}
	if !cfg.RelayEnabled {
		t.Error("RelayEnabled = false")
	}
	if want := []string{"spam1", "spam2"}; !reflect.DeepEqual(cfg.RelayBlocked, want) {
		t.Errorf("RelayBlocked = %q", cfg.RelayBlocked)
	}
	if cfg.MaxUploadBytes != 1024 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"MAGICK_ENGINE", "vips"},
		{"STATUS_INTERVAL", "soon"},
		{"RELAY_INTERVAL", "-1m"},
		{"MAX_UPLOAD_BYTES", "lots"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNELS", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	t.Setenv("TWITCH_CHANNELS", "")
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestValidateRelayReady(t *testing.T) {
	cfg := &Config{RelayHandle: "guildbot", YTClientID: "id", YTClientSecret: "secret", YTLiveChatID: "chat"}
	if err := cfg.ValidateRelayReady(); err != nil {
		t.Errorf("expected valid relay config, got %v", err)
	}
	cfg.YTLiveChatID = ""
	if err := cfg.ValidateRelayReady(); err == nil {
		t.Error("expected error without live chat id")
	}
}
