package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/onnwee/guildbot/crypto"
	"github.com/onnwee/guildbot/db"
)

func closeDB(database *sql.DB) { _ = database.Close() }

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := ctx.openDB(cmd)
			if err != nil {
				return err
			}
			defer closeDB(database)
			if err := db.Setup(cmd.Context(), database); err != nil {
				return err
			}
			return printVersion(cmd, database)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := ctx.openDB(cmd)
			if err != nil {
				return err
			}
			defer closeDB(database)
			v, err := db.MigrateDown(database)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %s\n", v)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := ctx.openDB(cmd)
			if err != nil {
				return err
			}
			defer closeDB(database)
			return printVersion(cmd, database)
		},
	})
	return cmd
}

func printVersion(cmd *cobra.Command, database *sql.DB) error {
	v, err := db.CurrentVersion(database)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %s\n", v)
	return nil
}

func newTokensCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect and re-seal stored OAuth tokens",
	}

	var dryRun bool
	reseal := &cobra.Command{
		Use:   "reseal",
		Short: "Seal plaintext tokens and tokens sealed with a retired key under ENCRYPTION_KEY",
		Long: `Rewrite every oauth_tokens row that is stored in plaintext or sealed with a
key listed in ENCRYPTION_KEYS_RETIRED, sealing it with ENCRYPTION_KEY.

Examples:
  botctl tokens reseal --dry-run
  ENCRYPTION_KEYS_RETIRED=<old key> botctl tokens reseal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.EncryptionKey == "" {
				return fmt.Errorf("ENCRYPTION_KEY environment variable is required")
			}
			keys, err := crypto.NewKeyring(cfg.EncryptionKey, cfg.RetiredEncryptionKeys...)
			if err != nil {
				return fmt.Errorf("initialize keyring: %w", err)
			}
			database, err := ctx.openDB(cmd)
			if err != nil {
				return err
			}
			defer closeDB(database)
			n, err := db.NewTokenStore(database, keys).ResealTokens(cmd.Context(), dryRun)
			if err != nil {
				return fmt.Errorf("resealed %d tokens before failing: %w", n, err)
			}
			verb := "Resealed"
			if dryRun {
				verb = "Would reseal"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d tokens\n", verb, n)
			return nil
		},
	}
	reseal.Flags().BoolVar(&dryRun, "dry-run", false, "Count the tokens that would be resealed without changing them")
	cmd.AddCommand(reseal)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report how stored tokens are sealed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := ctx.openDB(cmd)
			if err != nil {
				return err
			}
			defer closeDB(database)
			return tokenStatus(cmd, database)
		},
	})
	return cmd
}

// tokenStatus prints one line per provider with its sealing state.
func tokenStatus(cmd *cobra.Command, database *sql.DB) error {
	rows, err := database.QueryContext(cmd.Context(),
		`SELECT provider, COALESCE(encryption_version, 0), COALESCE(encryption_key_id, ''), expires_at
		 FROM oauth_tokens ORDER BY provider`)
	if err != nil {
		return fmt.Errorf("query token status: %w", err)
	}
	defer rows.Close()

	out := cmd.OutOrStdout()
	total := 0
	for rows.Next() {
		var (
			provider, keyID string
			version         int
			expiry          sql.NullTime
		)
		if err := rows.Scan(&provider, &version, &keyID, &expiry); err != nil {
			return fmt.Errorf("scan token status: %w", err)
		}
		desc := "plaintext"
		switch version {
		case 0:
		case 1:
			desc = "sealed (AES-256-GCM, key " + keyID + ")"
		default:
			desc = fmt.Sprintf("unknown version %d", version)
		}
		exp := "never"
		if expiry.Valid {
			exp = expiry.Time.UTC().Format("2006-01-02 15:04:05Z")
		}
		fmt.Fprintf(out, "%-10s %-40s expires %s\n", provider, desc, exp)
		total++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("token status rows: %w", err)
	}
	fmt.Fprintf(out, "%d tokens\n", total)
	return nil
}

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage social relay templates",
	}

	var kind string
	add := &cobra.Command{
		Use:   "add <content>",
		Short: "Add an enabled relay template; {{user}} is replaced by @<author> in replies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != db.TemplatePost && kind != db.TemplateReply {
				return fmt.Errorf("--kind must be %q or %q", db.TemplatePost, db.TemplateReply)
			}
			content := strings.TrimSpace(strings.Join(args, " "))
			if content == "" {
				return fmt.Errorf("template content is empty")
			}
			return withTemplates(ctx, cmd, func(ctx context.Context, s *db.TemplateStore) error {
				id, err := s.AddTemplate(ctx, kind, content)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s template %d\n", kind, id)
				return nil
			})
		},
	}
	add.Flags().StringVar(&kind, "kind", db.TemplatePost, "Template kind: post or reply")
	cmd.AddCommand(add)

	var listKind string
	list := &cobra.Command{
		Use:   "list",
		Short: "List enabled relay templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTemplates(ctx, cmd, func(ctx context.Context, s *db.TemplateStore) error {
				for _, k := range []string{db.TemplatePost, db.TemplateReply} {
					if listKind != "" && listKind != k {
						continue
					}
					items, err := s.ListTemplates(ctx, k)
					if err != nil {
						return err
					}
					for _, t := range items {
						fmt.Fprintf(cmd.OutOrStdout(), "%-5s %s\n", k, t)
					}
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&listKind, "kind", "", "Only list this kind")
	cmd.AddCommand(list)

	for _, enabled := range []bool{true, false} {
		use, short := "enable <id>", "Enable a relay template"
		if !enabled {
			use, short = "disable <id>", "Disable a relay template"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid template id %q", args[0])
				}
				return withTemplates(ctx, cmd, func(ctx context.Context, s *db.TemplateStore) error {
					return s.SetTemplateEnabled(ctx, id, enabled)
				})
			},
		})
	}
	return cmd
}

func withTemplates(c *commandContext, cmd *cobra.Command, fn func(context.Context, *db.TemplateStore) error) error {
	database, err := c.openDB(cmd)
	if err != nil {
		return err
	}
	defer closeDB(database)
	return fn(cmd.Context(), &db.TemplateStore{DB: database})
}
