package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strconv"

	"github.com/onnwee/guildbot/magick"
	"github.com/onnwee/guildbot/telemetry"
)

var (
	coderPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,16}$`)
	delayPattern = regexp.MustCompile(`^[0-9]+/[0-9]+$`)
)

// readImage reads the request body as the engine input. The optional input
// query parameter names the coder for formats the engine cannot sniff.
func (h *Handlers) readImage(w http.ResponseWriter, r *http.Request) (*magick.Image, bool) {
	if !methodAllowed(w, r, http.MethodPost) {
		return nil, false
	}
	if h.d.Engine == nil {
		http.Error(w, "media engine not configured", http.StatusServiceUnavailable)
		return nil, false
	}
	input := r.URL.Query().Get("input")
	if input != "" && !coderPattern.MatchString(input) {
		http.Error(w, "invalid input coder", http.StatusBadRequest)
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.d.MaxUploadBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, fmt.Sprintf("image larger than %d bytes", h.d.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return nil, false
	}
	return h.d.Engine.Open(magick.FromBytes(body, input)), true
}

func (h *Handlers) magickContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.d.MagickTimeout)
}

// writeMagickError maps engine failures to HTTP statuses.
func writeMagickError(w http.ResponseWriter, r *http.Request, op string, err error) {
	telemetry.LoggerWithCorr(r.Context()).Warn("magick request failed", slog.String("op", op), slog.Any("err", err), slog.String("component", "http"))
	switch {
	case errors.Is(err, magick.ErrSpawn):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "media engine unavailable"})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "media engine timed out"})
	case magick.Diagnostic(err) != "":
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": op + " failed", "diagnostic": magick.Diagnostic(err)})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// HandleMagickBuffer converts the posted image: POST /magick/buffer?format=&delay=&mode=.
func (h *Handlers) HandleMagickBuffer(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	q := r.URL.Query()
	format := q.Get("format")
	if !coderPattern.MatchString(format) {
		http.Error(w, "format required (e.g. png, gif, webp)", http.StatusBadRequest)
		return
	}
	delay := q.Get("delay")
	if delay != "" && !delayPattern.MatchString(delay) {
		http.Error(w, "delay must look like <ticks>/<per-second>", http.StatusBadRequest)
		return
	}
	im, ok := h.readImage(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.magickContext(r)
	defer cancel()
	out, err := im.Buffer(ctx, format, delay, magick.ParseRenderMode(q.Get("mode")))
	if err != nil {
		writeMagickError(w, r, "buffer", err)
		return
	}
	ct := mime.TypeByExtension("." + format)
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// HandleMagickSize reports the first frame's dimensions of the posted image.
func (h *Handlers) HandleMagickSize(w http.ResponseWriter, r *http.Request) {
	im, ok := h.readImage(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.magickContext(r)
	defer cancel()
	sz, err := im.Size(ctx)
	if err != nil {
		writeMagickError(w, r, "size", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"width": sz.Width, "height": sz.Height})
}

// HandleMagickIdentify describes the posted image.
func (h *Handlers) HandleMagickIdentify(w http.ResponseWriter, r *http.Request) {
	im, ok := h.readImage(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.magickContext(r)
	defer cancel()
	md, err := im.Identify(ctx)
	if err != nil {
		writeMagickError(w, r, "identify", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"format":    md.Format,
		"width":     md.Width,
		"height":    md.Height,
		"depth":     md.Depth,
		"class":     md.Class,
		"file_size": md.FileSize,
		"frames":    md.Frames,
	})
}
