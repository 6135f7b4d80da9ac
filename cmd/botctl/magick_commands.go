package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/onnwee/guildbot/magick"
)

// source maps a CLI argument to an engine source; "-" reads stdin.
func source(cmd *cobra.Command, arg, inputFormat string) (magick.Source, error) {
	if arg != "-" {
		return magick.FromFile(arg), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return magick.Source{}, fmt.Errorf("read stdin: %w", err)
	}
	return magick.FromBytes(b, inputFormat), nil
}

func withTimeout(c *commandContext, parent context.Context) (context.Context, context.CancelFunc, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(parent, cfg.MagickTimeout)
	return ctx, cancel, nil
}

// inputFlags are shared by every command that reads an image.
type inputFlags struct {
	inputFormat string
}

func (f *inputFlags) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.inputFormat, "input-format", "", "Input coder hint for stdin input")
}

// renderFlags select the output of a conversion.
type renderFlags struct {
	inputFlags
	format string
	delay  string
	mode   string
	output string
}

func (f *renderFlags) AddFlags(fs *pflag.FlagSet) {
	f.inputFlags.AddFlags(fs)
	fs.StringVarP(&f.format, "format", "f", "", "Output coder, e.g. png, gif, webp")
	fs.StringVar(&f.delay, "delay", "", "Frame delay as <ticks>/<ticks-per-second>")
	fs.StringVar(&f.mode, "mode", "", "Render mode: normal or reduced")
	fs.StringVarP(&f.output, "out", "o", "", "Write to this file instead of stdout")
}

func newTransformCommand(ctx *commandContext) *cobra.Command {
	var flags renderFlags

	cmd := &cobra.Command{
		Use:   "transform <input>",
		Short: "Convert an image through the media engine",
		Long: `Convert an image (a path, a URL the engine understands, or - for stdin)
to the requested format. The result goes to --out, or to stdout when unset.

Examples:
  botctl transform in.gif --format webp --out out.webp
  botctl transform in.gif --format gif --delay 100/2 --mode reduced > out.gif
  cat in.png | botctl transform - --input-format png --format jpg > out.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ctx.engine()
			if err != nil {
				return err
			}
			src, err := source(cmd, args[0], flags.inputFormat)
			if err != nil {
				return err
			}
			runCtx, cancel, err := withTimeout(ctx, cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()

			im := engine.Open(src)
			if flags.format == "" && flags.output != "" {
				return im.Write(runCtx, flags.output)
			}
			if flags.format == "" {
				return fmt.Errorf("--format is required when writing to stdout")
			}
			data, err := im.Buffer(runCtx, flags.format, flags.delay, magick.ParseRenderMode(flags.mode))
			if err != nil {
				return err
			}
			if flags.output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(flags.output, data, 0o644)
		},
	}
	flags.AddFlags(cmd.Flags())
	return cmd
}

func newIdentifyCommand(ctx *commandContext) *cobra.Command {
	var flags inputFlags
	cmd := &cobra.Command{
		Use:   "identify <input>",
		Short: "Describe an image: format, geometry, depth, class, size and frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ctx.engine()
			if err != nil {
				return err
			}
			src, err := source(cmd, args[0], flags.inputFormat)
			if err != nil {
				return err
			}
			runCtx, cancel, err := withTimeout(ctx, cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			md, err := engine.Open(src).Identify(runCtx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "format:  %s\n", md.Format)
			fmt.Fprintf(out, "size:    %dx%d\n", md.Width, md.Height)
			fmt.Fprintf(out, "depth:   %d\n", md.Depth)
			fmt.Fprintf(out, "class:   %s\n", md.Class)
			fmt.Fprintf(out, "bytes:   %s\n", md.FileSize)
			fmt.Fprintf(out, "frames:  %d\n", md.Frames)
			return nil
		},
	}
	flags.AddFlags(cmd.Flags())
	return cmd
}

func newSizeCommand(ctx *commandContext) *cobra.Command {
	var flags inputFlags
	cmd := &cobra.Command{
		Use:   "size <input>",
		Short: "Print the first frame's dimensions as WIDTHxHEIGHT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ctx.engine()
			if err != nil {
				return err
			}
			src, err := source(cmd, args[0], flags.inputFormat)
			if err != nil {
				return err
			}
			runCtx, cancel, err := withTimeout(ctx, cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			sz, err := engine.Open(src).Size(runCtx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%dx%d\n", sz.Width, sz.Height)
			return nil
		},
	}
	flags.AddFlags(cmd.Flags())
	return cmd
}
