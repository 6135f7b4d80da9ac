// Package magick runs an external ImageMagick or GraphicsMagick binary for the
// bot's media commands.
//
// An Engine knows where the binaries live. Engine.Open binds it to one input
// Source and returns an Image exposing four single-shot operations: Write,
// Buffer, Size and Identify. Buffer is the streaming path: it builds a
// Pipeline, spawns one convert process, collects stdout in arrival order and
// settles exactly once on whichever comes first, stdout EOF or the first
// stderr payload.
//
// An Image must not be used by two operations at the same time.
package magick

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Engine kinds accepted by Options.Kind.
const (
	KindImageMagick    = "imagemagick"
	KindGraphicsMagick = "graphicsmagick"
)

// Options configures binary locations. Zero values fall back to PATH lookups.
type Options struct {
	Kind         string
	GMPath       string
	ConvertPath  string
	IdentifyPath string
	// WaitDelay bounds how long a killed engine may keep its pipes open.
	WaitDelay time.Duration
}

// Engine builds engine commands. It holds no per-invocation state and is safe for concurrent use.
type Engine struct {
	convert   []string
	identify  []string
	waitDelay time.Duration
}

// New returns an Engine for the given options.
func New(opts Options) *Engine {
	e := &Engine{waitDelay: opts.WaitDelay}
	if e.waitDelay <= 0 {
		e.waitDelay = 2 * time.Second
	}
	switch strings.ToLower(opts.Kind) {
	case KindGraphicsMagick, "gm":
		gm := opts.GMPath
		if gm == "" {
			gm = "gm"
		}
		e.convert = []string{gm, "convert"}
		e.identify = []string{gm, "identify"}
	default:
		conv := opts.ConvertPath
		if conv == "" {
			conv = "convert"
		}
		ident := opts.IdentifyPath
		if ident == "" {
			ident = "identify"
		}
		e.convert = []string{conv}
		e.identify = []string{ident}
	}
	return e
}

// Binaries returns the executables this engine invokes, for dependency checks.
func (e *Engine) Binaries() []string {
	out := []string{e.convert[0]}
	if e.identify[0] != e.convert[0] {
		out = append(out, e.identify[0])
	}
	return out
}

func (e *Engine) command(ctx context.Context, base []string, args ...string) *exec.Cmd {
	full := append(append([]string{}, base[1:]...), args...)
	cmd := exec.CommandContext(ctx, base[0], full...)
	cmd.WaitDelay = e.waitDelay
	return cmd
}

// Source is the input an Image reads from: a path or URL, or raw bytes fed on stdin.
type Source struct {
	Path string
	// Data, when non-nil, is written to the engine's stdin. Format is an optional
	// coder hint such as "png" for inputs the engine cannot sniff.
	Data   []byte
	Format string
}

// FromFile reads from a local path or any URL the engine understands.
func FromFile(path string) Source { return Source{Path: path} }

// FromBytes feeds b on stdin.
func FromBytes(b []byte, format string) Source {
	if b == nil {
		b = []byte{}
	}
	return Source{Data: b, Format: format}
}

func (s Source) arg() string {
	if s.Data != nil {
		if s.Format != "" {
			return s.Format + ":-"
		}
		return "-"
	}
	return s.Path
}

func (s Source) stdin() io.Reader {
	if s.Data == nil {
		return nil
	}
	return bytes.NewReader(s.Data)
}

func (s Source) String() string {
	if s.Data != nil {
		return "stdin(" + s.Format + ")"
	}
	return s.Path
}

// run executes a non-streaming engine command and returns its stdout.
func (e *Engine) run(ctx context.Context, op string, base []string, src Source, args ...string) ([]byte, error) {
	cmd := e.command(ctx, base, args...)
	if r := src.stdin(); r != nil {
		cmd.Stdin = r
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, spawnError(op, err)
	}
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			slog.Debug("magick wait failed", slog.String("op", op), slog.Any("err", err))
		}
		return nil, &EngineError{Op: op, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}
