package magick

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSpawn reports that the engine process could not be started.
var ErrSpawn = errors.New("magick: engine failed to start")

// ErrMultiFrame reports that the engine split a multi-frame input into one file
// per frame because the target format holds a single image.
var ErrMultiFrame = errors.New("magick: multi-frame output needs a multi-image format")

// DiagnosticError carries the first payload the engine wrote to its diagnostic
// channel during a streaming conversion.
type DiagnosticError struct {
	Op   string
	Text string
}

func (e *DiagnosticError) Error() string {
	return fmt.Sprintf("magick %s: %s", e.Op, strings.TrimSpace(e.Text))
}

// EngineError is returned by the non-streaming operations when the engine exits
// unsuccessfully. Stderr holds whatever the engine printed.
type EngineError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *EngineError) Error() string {
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return fmt.Sprintf("magick %s: %v: %s", e.Op, e.Err, s)
	}
	return fmt.Sprintf("magick %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Diagnostic returns the engine's diagnostic text for err, or "" when err did not
// come from the engine.
func Diagnostic(err error) string {
	var de *DiagnosticError
	if errors.As(err, &de) {
		return de.Text
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Stderr
	}
	return ""
}

func spawnError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSpawn, op, err)
}
