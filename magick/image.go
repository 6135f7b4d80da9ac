package magick

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/guildbot/telemetry"
)

// Size is the first frame's dimensions as reported by the engine.
type Size struct {
	Width  int
	Height int
}

// Metadata is the engine's descriptive summary of an input.
type Metadata struct {
	Format   string
	Width    int
	Height   int
	Depth    int
	Class    string
	FileSize string
	Frames   int
}

// identifyFormat is understood by both ImageMagick and GraphicsMagick.
const identifyFormat = "%m|%w|%h|%z|%r|%b\n"

// Image binds an Engine to one input. Operations are single-shot and must not overlap.
type Image struct {
	engine *Engine
	src    Source
}

// Open returns an Image reading from src.
func (e *Engine) Open(src Source) *Image {
	return &Image{engine: e, src: src}
}

// Source returns the input the image reads from.
func (im *Image) Source() Source { return im.src }

// Write converts the input into target, inferring the output coder from its
// extension. Output goes to a unique temporary sibling first so a failed write
// never leaves a partial target behind. Multi-frame input written to a format
// that holds a single image fails with ErrMultiFrame.
func (im *Image) Write(ctx context.Context, target string) (err error) {
	ctx, done := im.begin(ctx, "write")
	defer func() { done(err) }()

	ext := filepath.Ext(target)
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+strings.TrimSuffix(filepath.Base(target), ext)+"-*"+ext)
	if err != nil {
		return fmt.Errorf("magick write: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	scenes := strings.TrimSuffix(tmpPath, ext) + "-*" + ext
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
		// Scene files only exist when the engine split frames; they are never kept.
		matches, _ := filepath.Glob(scenes)
		for _, m := range matches {
			_ = os.Remove(m)
		}
	}()

	if _, err = im.engine.run(ctx, "write", im.engine.convert, im.src, im.src.arg(), "-adjoin", coderPrefix(target)+tmpPath); err != nil {
		return err
	}
	if matches, _ := filepath.Glob(scenes); len(matches) > 0 {
		return ErrMultiFrame
	}
	if err = os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("magick write: rename: %w", err)
	}
	return nil
}

// Buffer streams the input through a freshly built pipeline and returns the
// encoded bytes. A diagnostic from the engine is returned as *DiagnosticError.
func (im *Image) Buffer(ctx context.Context, format, frameDelay string, mode RenderMode) (data []byte, err error) {
	ctx, done := im.begin(ctx, "buffer")
	defer func() { done(err) }()

	p := BuildPipeline(format, frameDelay, mode)
	telemetry.LoggerWithCorr(ctx).Debug("magick stream",
		slog.String("format", format),
		slog.String("mode", mode.String()),
		slog.Any("tokens", p.Tokens()),
		slog.String("component", "magick"))
	return im.engine.stream(ctx, im.src, p)
}

// Size reports the dimensions of the first frame.
func (im *Image) Size(ctx context.Context) (sz Size, err error) {
	ctx, done := im.begin(ctx, "size")
	defer func() { done(err) }()

	out, err := im.engine.run(ctx, "size", im.engine.identify, im.src, "-format", "%w %h\n", im.src.arg())
	if err != nil {
		return Size{}, err
	}
	return parseSize(out)
}

// Identify reports descriptive metadata for the input.
func (im *Image) Identify(ctx context.Context) (md Metadata, err error) {
	ctx, done := im.begin(ctx, "identify")
	defer func() { done(err) }()

	out, err := im.engine.run(ctx, "identify", im.engine.identify, im.src, "-format", identifyFormat, im.src.arg())
	if err != nil {
		return Metadata{}, err
	}
	return parseMetadata(out)
}

// begin opens a span and tags the context with an invocation id; the returned
// func records the outcome exactly once.
func (im *Image) begin(ctx context.Context, op string) (context.Context, func(error)) {
	if telemetry.GetCorrelation(ctx) == "" {
		ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	}
	ctx, span := telemetry.StartSpan(ctx, "magick", "magick."+op, telemetry.MagickAttrs(op, im.src.String())...)
	start := time.Now()
	return ctx, func(err error) {
		d := time.Since(start)
		telemetry.ObserveMagick(op, d, err)
		if err != nil {
			telemetry.RecordError(span, err)
			telemetry.LoggerWithCorr(ctx).Warn("magick operation failed",
				slog.String("op", op),
				slog.String("source", im.src.String()),
				slog.Duration("duration", d),
				slog.Any("err", err),
				slog.String("component", "magick"))
		} else {
			telemetry.SetSpanSuccess(span)
		}
		span.End()
	}
}

// coderPrefix pins the output coder to target's extension so the engine does
// not guess it from a temporary name.
func coderPrefix(target string) string {
	ext := strings.TrimPrefix(filepath.Ext(target), ".")
	if ext == "" {
		return ""
	}
	return strings.ToUpper(ext) + ":"
}

func parseSize(out []byte) (Size, error) {
	line := firstLine(out)
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Size{}, fmt.Errorf("magick size: unexpected output %q", line)
	}
	w, err := strconv.Atoi(fields[0])
	if err != nil {
		return Size{}, fmt.Errorf("magick size: width: %w", err)
	}
	h, err := strconv.Atoi(fields[1])
	if err != nil {
		return Size{}, fmt.Errorf("magick size: height: %w", err)
	}
	return Size{Width: w, Height: h}, nil
}

func parseMetadata(out []byte) (Metadata, error) {
	var md Metadata
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		md.Frames++
		if md.Frames > 1 {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 6 {
			return Metadata{}, fmt.Errorf("magick identify: unexpected output %q", line)
		}
		md.Format = parts[0]
		md.Width, _ = strconv.Atoi(parts[1])
		md.Height, _ = strconv.Atoi(parts[2])
		md.Depth, _ = strconv.Atoi(parts[3])
		md.Class = parts[4]
		md.FileSize = parts[5]
	}
	if err := sc.Err(); err != nil {
		return Metadata{}, fmt.Errorf("magick identify: %w", err)
	}
	if md.Frames == 0 {
		return Metadata{}, fmt.Errorf("magick identify: empty output")
	}
	return md, nil
}

func firstLine(out []byte) string {
	s := strings.TrimLeft(string(out), "\r\n ")
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
