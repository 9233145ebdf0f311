// Package mw holds the HTTP middleware chain for the meeting gateway.
package mw

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type requestIDKey struct{}

// WithRequestID stamps the id used by logging and error envelopes.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the id stamped by the RequestID middleware, if any.
func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// RequestID adopts an inbound X-Request-ID or mints one, echoes it on the
// response, and carries it on the request context for the rest of the chain.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

func newRequestID() string {
	var b [10]byte
	if _, err := rand.Read(b[:]); err != nil {
		// rand.Read only fails when the OS entropy source is broken; the
		// clock still keeps requests distinguishable in logs.
		return "req_t" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return "req_" + hex.EncodeToString(b[:])
}

// Recover turns a handler panic into a 500 response and logs the panic value.
func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if logger != nil {
				logger.Error("handler panic", "value", v, "path", r.URL.Path)
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// The recorder must advertise exactly the optional interfaces the underlying
// writer supports. Websocket upgrades need Hijacker where the listener
// provides it, and claiming Flusher or Hijacker the writer lacks would turn
// a handler's type probe into a nil dereference.

type flushRecorder struct {
	*statusRecorder
	flusher http.Flusher
}

func (w *flushRecorder) Flush() { w.flusher.Flush() }

type hijackRecorder struct {
	*statusRecorder
	hijacker http.Hijacker
}

func (w *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.hijacker.Hijack()
}

type fullRecorder struct {
	*statusRecorder
	flusher  http.Flusher
	hijacker http.Hijacker
}

func (w *fullRecorder) Flush() { w.flusher.Flush() }

func (w *fullRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.hijacker.Hijack()
}

func instrument(w http.ResponseWriter) (http.ResponseWriter, *statusRecorder) {
	rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
	flusher, canFlush := w.(http.Flusher)
	hijacker, canHijack := w.(http.Hijacker)
	switch {
	case canFlush && canHijack:
		return &fullRecorder{statusRecorder: rec, flusher: flusher, hijacker: hijacker}, rec
	case canFlush:
		return &flushRecorder{statusRecorder: rec, flusher: flusher}, rec
	case canHijack:
		return &hijackRecorder{statusRecorder: rec, hijacker: hijacker}, rec
	default:
		return rec, rec
	}
}

// AccessLog emits one structured line per request after the handler returns.
func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logger == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		wrapped, rec := instrument(w)
		next.ServeHTTP(wrapped, r)
		id, _ := RequestIDFrom(r.Context())
		logger.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
