package magick

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
)

const (
	stdoutChunk = 32 * 1024
	stderrChunk = 4 * 1024
)

// outcome is the single result of one streaming invocation: data on success, err on failure.
type outcome struct {
	data []byte
	err  error
}

// stream spawns one convert process for p and settles on the first of stdout EOF
// or the first stderr payload. Later stderr payloads are read and dropped.
//
// Stdout EOF only settles as success once the stderr reader has seen EOF as
// well, so a diagnostic already written when the output ended is never lost
// to the scheduling of the two readers.
func (e *Engine) stream(ctx context.Context, src Source, p Pipeline) ([]byte, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := e.command(runCtx, e.convert, p.Args(src.arg())...)
	if r := src.stdin(); r != nil {
		cmd.Stdin = r
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, spawnError("stream", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, spawnError("stream", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, spawnError("stream", err)
	}

	// Buffered so neither reader blocks on send after settlement.
	output := make(chan outcome, 1)
	diag := make(chan outcome, 1)
	stderrDone := make(chan struct{})
	go collectOutput(stdout, output)
	go func() {
		defer close(stderrDone)
		watchDiagnostics(stderr, diag)
	}()

	var res outcome
	select {
	case res = <-diag:
	case res = <-output:
		if res.err == nil {
			res = awaitDiagnostics(ctx, res, diag, stderrDone)
		}
	case <-ctx.Done():
		res = outcome{err: ctx.Err()}
	}

	if res.err != nil {
		cancel()
	}
	waitErr := cmd.Wait()
	if res.err != nil {
		return nil, res.err
	}
	// A cancelled context kills the process, which also ends stdout; that is not a success.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if waitErr != nil {
		slog.Debug("magick stream exited after output completed", slog.String("format", p.Format), slog.Any("err", waitErr))
	}
	return res.data, nil
}

// awaitDiagnostics holds a completed output until stderr reaches EOF and
// prefers a diagnostic reported in the meantime.
func awaitDiagnostics(ctx context.Context, done outcome, diag <-chan outcome, stderrDone <-chan struct{}) outcome {
	select {
	case d := <-diag:
		return d
	case <-stderrDone:
		select {
		case d := <-diag:
			return d
		default:
			return done
		}
	case <-ctx.Done():
		return outcome{err: ctx.Err()}
	}
}

// collectOutput appends stdout chunks in arrival order and reports the
// concatenation once the stream ends.
func collectOutput(r io.Reader, settled chan<- outcome) {
	var buf bytes.Buffer
	chunk := make([]byte, stdoutChunk)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				data := buf.Bytes()
				if data == nil {
					data = []byte{}
				}
				settled <- outcome{data: data}
			} else {
				settled <- outcome{err: err}
			}
			return
		}
	}
}

// watchDiagnostics reports the first non-empty stderr read as a failure and
// drains everything after it.
func watchDiagnostics(r io.Reader, settled chan<- outcome) {
	reported := false
	chunk := make([]byte, stderrChunk)
	for {
		n, err := r.Read(chunk)
		if n > 0 && !reported {
			reported = true
			settled <- outcome{err: &DiagnosticError{Op: "stream", Text: string(chunk[:n])}}
		}
		if err != nil {
			return
		}
	}
}
