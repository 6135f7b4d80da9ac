package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/guildbot/config"
	"github.com/onnwee/guildbot/db"
	"github.com/onnwee/guildbot/magick"
)

type commandContext struct {
	envFile *string
	verbose *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if c.envFile != nil && strings.TrimSpace(*c.envFile) != "" {
			if err := godotenv.Load(*c.envFile); err != nil {
				c.configErr = fmt.Errorf("load env file: %w", err)
				return
			}
		}
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

func (c *commandContext) engine() (*magick.Engine, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return magick.New(magick.Options{
		Kind:         cfg.MagickEngine,
		GMPath:       cfg.MagickGMPath,
		ConvertPath:  cfg.MagickConvertPath,
		IdentifyPath: cfg.MagickIdentifyPath,
	}), nil
}

// openDB connects to DB_DSN and verifies the connection.
func (c *commandContext) openDB(cmd *cobra.Command) (*sql.DB, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.PingContext(cmd.Context()); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return database, nil
}

func (c *commandContext) setupLogging(cmd *cobra.Command) {
	lvl := slog.LevelWarn
	if c.verbose != nil && *c.verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl})))
}

func newRootCommand() *cobra.Command {
	var envFlag string
	var verboseFlag bool

	ctx := &commandContext{envFile: &envFlag, verbose: &verboseFlag}

	rootCmd := &cobra.Command{
		Use:           "botctl",
		Short:         "guildbot operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx.setupLogging(cmd)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFlag, "env-file", os.Getenv("BOTCTL_ENV_FILE"), "Load environment variables from this file first")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(newTransformCommand(ctx))
	rootCmd.AddCommand(newIdentifyCommand(ctx))
	rootCmd.AddCommand(newSizeCommand(ctx))
	rootCmd.AddCommand(newDocsCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newTokensCommand(ctx))
	rootCmd.AddCommand(newTemplatesCommand(ctx))

	return rootCmd
}
