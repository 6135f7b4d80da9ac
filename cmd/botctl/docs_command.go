package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onnwee/guildbot/commands"
	"github.com/onnwee/guildbot/help"
)

func newDocsCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Render the chat command reference",
		Long: `Render the chat command reference as Markdown, or as HTML when the
output path ends in .html. Defaults to OUTPUT from the environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if output == "" {
				output = cfg.Output
			}
			registry := commands.NewRegistry()
			if err := commands.RegisterBuiltins(registry, commands.Deps{}); err != nil {
				return err
			}
			if output == "" {
				_, err := cmd.OutOrStdout().Write(help.Markdown(cfg.TwitchBotUsername, cfg.DefaultPrefix, registry.Commands()))
				return err
			}
			if err := help.Generate(output, cfg.TwitchBotUsername, cfg.DefaultPrefix, registry.Commands()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d commands to %s\n", len(registry.Names()), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "out", "o", "", "Output path (.md or .html)")
	return cmd
}
