// Command guildbot is the main entrypoint for the chat bot and its HTTP API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs migrations.
//   - Connects to Twitch chat, reconciles guild records and syncs command counters.
//   - Starts background jobs: stale guild cleanup, status rotation, the social
//     relay (when enabled) and OAuth token refreshers for Twitch/YouTube.
//   - Exposes an HTTP server with health, metrics, media engine and admin routes.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/guildbot/assets"
	"github.com/onnwee/guildbot/chat"
	"github.com/onnwee/guildbot/commands"
	"github.com/onnwee/guildbot/config"
	"github.com/onnwee/guildbot/crypto"
	"github.com/onnwee/guildbot/db"
	"github.com/onnwee/guildbot/guild"
	"github.com/onnwee/guildbot/help"
	"github.com/onnwee/guildbot/magick"
	"github.com/onnwee/guildbot/oauth"
	"github.com/onnwee/guildbot/relay"
	"github.com/onnwee/guildbot/server"
	"github.com/onnwee/guildbot/status"
	"github.com/onnwee/guildbot/telemetry"
	"github.com/onnwee/guildbot/twitchapi"
	"github.com/onnwee/guildbot/youtubeapi"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("guildbot", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Setup(ctx, database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	var keys *crypto.Keyring
	if cfg.EncryptionKey != "" {
		if keys, err = crypto.NewKeyring(cfg.EncryptionKey, cfg.RetiredEncryptionKeys...); err != nil {
			slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
			os.Exit(1)
		}
	}
	tokens := db.NewTokenStore(database, keys)
	guildStore := &db.GuildStore{DB: database}
	countStore := &db.CountStore{DB: database}
	templateStore := &db.TemplateStore{DB: database}

	engine := magick.New(magick.Options{
		Kind:         cfg.MagickEngine,
		GMPath:       cfg.MagickGMPath,
		ConvertPath:  cfg.MagickConvertPath,
		IdentifyPath: cfg.MagickIdentifyPath,
	})

	registry := commands.NewRegistry()
	if err := commands.RegisterBuiltins(registry, commands.Deps{
		Engine:        engine,
		Guilds:        guildStore,
		MaxImageBytes: cfg.MaxUploadBytes,
		MagickTimeout: cfg.MagickTimeout,
	}); err != nil {
		slog.Error("failed to register commands", slog.Any("err", err))
		os.Exit(1)
	}

	// Twitch user token for channel title updates, refreshed from the stored refresh token.
	twitchApp := &twitchapi.OAuthApp{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURI:  cfg.TwitchRedirectURI,
		Scopes:       cfg.TwitchScopes,
	}
	twitchRefresh := oauth.TwitchRefresh(twitchApp)
	if seeded, err := oauth.Seed(ctx, tokens, oauth.ProviderTwitch, cfg.TwitchRefreshToken); err != nil {
		slog.Warn("failed to seed twitch refresh token", slog.Any("err", err))
	} else if seeded {
		slog.Info("seeded twitch refresh token from environment")
	}
	helix := &twitchapi.HelixClient{
		ClientID: cfg.TwitchClientID,
		Token:    oauth.TokenFunc(tokens, oauth.ProviderTwitch, twitchRefresh),
	}

	dispatcher := &chat.Dispatcher{
		Registry:      registry,
		Guilds:        guildStore,
		Counter:       &commands.Counter{Store: countStore},
		BotName:       cfg.TwitchBotUsername,
		DefaultPrefix: cfg.DefaultPrefix,
		Timeout:       cfg.MagickTimeout,
	}
	bot := chat.New(cfg, dispatcher, helix)

	chatReady := cfg.ValidateChatReady() == nil
	if chatReady {
		if err := bot.Connect(ctx); err != nil {
			slog.Error("failed to connect to twitch chat", slog.Any("err", err))
			os.Exit(1)
		}
	} else {
		slog.Warn("chat disabled (missing twitch creds)", slog.Any("err", cfg.ValidateChatReady()))
	}

	guilds := bot.Guilds()
	tags, err := assets.DefaultTags()
	if err != nil {
		slog.Error("failed to load default tags", slog.Any("err", err))
		os.Exit(1)
	}
	res, err := guild.Reconcile(ctx, guildStore, guilds, guild.Defaults{Prefix: cfg.DefaultPrefix, Tags: tags})
	if err != nil {
		slog.Error("guild reconciliation incomplete", slog.Any("err", err))
	}
	slog.Info("guilds reconciled", slog.Int("registered", len(res.Registered)), slog.Int("repaired", len(res.Repaired)))
	telemetry.SetGuilds(len(guilds))

	sched, err := guild.ParseWeekly(cfg.StaleCleanupSchedule)
	if err != nil {
		slog.Warn("invalid STALE_CLEANUP_SCHEDULE, using default", slog.Any("err", err))
		sched = guild.DefaultWeekly
	}
	if chatReady && len(guilds) > 0 {
		go guild.StartStaleCleanupJob(ctx, guildStore, bot.Guilds, sched)
	} else {
		slog.Warn("stale guild cleanup disabled (chat not connected or no channels configured)")
	}

	if _, err := commands.SyncCounts(ctx, countStore, registry.Names()); err != nil {
		slog.Error("failed to sync command counters", slog.Any("err", err))
	}

	if cfg.Output != "" {
		if err := help.Generate(cfg.Output, cfg.TwitchBotUsername, cfg.DefaultPrefix, registry.Commands()); err != nil {
			slog.Error("failed to generate help docs", slog.Any("err", err), slog.String("path", cfg.Output))
		} else {
			slog.Info("help docs written", slog.String("path", cfg.Output))
		}
	}

	oauth.StartRefresher(ctx, tokens, oauth.ProviderTwitch, 5*time.Minute, 15*time.Minute, twitchRefresh)
	startStatusRotation(ctx, cfg, bot)

	yt := youtubeapi.New(cfg, tokens)
	if cfg.RelayEnabled {
		if err := cfg.ValidateRelayReady(); err != nil {
			slog.Error("relay enabled but not configured", slog.Any("err", err))
		} else {
			oauth.StartRefresher(ctx, tokens, oauth.ProviderYouTube, 10*time.Minute, 20*time.Minute, yt.Refresh)
			r := &relay.Relay{
				Transport:    yt,
				Templates:    templateStore,
				Cursor:       relay.KVCursor{DB: database},
				Handle:       cfg.RelayHandle,
				Blocked:      cfg.RelayBlocked,
				Interval:     cfg.RelayInterval,
				PollInterval: cfg.RelayPollInterval,
			}
			go func() {
				if err := r.Run(ctx); err != nil {
					slog.Error("relay stopped", slog.Any("err", err))
				}
			}()
		}
	}

	startPprof()

	deps := server.Deps{
		DB:             database,
		Engine:         engine,
		Guilds:         guildStore,
		Counts:         countStore,
		TwitchOAuth:    twitchApp,
		Tokens:         tokens,
		AdminToken:     cfg.AdminToken,
		MaxUploadBytes: cfg.MaxUploadBytes,
		MagickTimeout:  cfg.MagickTimeout,
	}
	if chatReady {
		deps.ChatReady = bot.Connected
	}
	if cfg.YTClientID != "" {
		deps.YouTube = yt
	}
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, server.NewMux(ctx, deps), cfg.MagickTimeout); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info(fmt.Sprintf("Successfully started %s in %d channels", cfg.TwitchBotUsername, len(guilds)),
		slog.String("http_addr", cfg.HTTPAddr))

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// startStatusRotation resolves the broadcaster whose title carries the status
// and starts the rotation job. It is skipped without Twitch app credentials.
func startStatusRotation(ctx context.Context, cfg *config.Config, bot *chat.Client) {
	if cfg.TwitchClientID == "" {
		slog.Info("status rotation disabled (TWITCH_CLIENT_ID not set)")
		return
	}
	if cfg.TwitchBroadcasterID == "" {
		if cfg.TwitchClientSecret == "" || cfg.TwitchBotUsername == "" {
			slog.Info("status rotation disabled (no broadcaster id and no app credentials to resolve it)")
			return
		}
		app := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
		lookup := &twitchapi.HelixClient{ClientID: cfg.TwitchClientID, Token: app.Get}
		lctx, cancel := context.WithTimeout(ctx, 8*time.Second)
		id, err := lookup.GetUserID(lctx, cfg.TwitchBotUsername)
		cancel()
		if err != nil {
			slog.Warn("status rotation disabled: resolve broadcaster id", slog.Any("err", err))
			return
		}
		bot.SetBroadcasterID(id)
	}
	messages, err := assets.StatusMessages(cfg.StatusMessagesFile)
	if err != nil {
		slog.Warn("falling back to built-in status messages", slog.Any("err", err))
		if messages, err = assets.StatusMessages(""); err != nil {
			slog.Error("no status messages available", slog.Any("err", err))
			return
		}
	}
	rot := &status.Rotator{BotName: cfg.TwitchBotUsername, Messages: messages}
	go status.StartRotationJob(ctx, bot, rot, cfg.StatusInterval)
}

func setupLogging() {
	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
