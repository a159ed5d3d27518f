package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"accessdesk.org/internal/directory"
	"accessdesk.org/internal/obs"
)

const streamingSentinel = "[Streaming Response]"

// captureWriter buffers the response body so it can be persisted after the
// handler returns. Streaming handlers are detected through Flush and only
// leave a sentinel behind.
type captureWriter struct {
	http.ResponseWriter
	code    int
	buf     bytes.Buffer
	flushed bool
}

func (w *captureWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.flushed {
		w.buf.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) Flush() {
	w.flushed = true
	w.buf.Reset()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// recordActivity audits every authenticated API call. Requests outside the
// API prefix or without a resolvable token pass through untouched.
func (a *API) recordActivity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !underPrefix(r.URL.Path, a.apiPrefix) {
			next.ServeHTTP(w, r)
			return
		}

		tok, err := a.resolveToken(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		reqBody := captureRequestBody(r)

		cw := &captureWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(cw, r)

		act := directory.Activity{
			Endpoint:   r.Method + " " + r.URL.Path,
			Timestamp:  time.Now().UTC(),
			Request:    reqBody,
			Response:   captureResponseBody(cw),
			StatusCode: cw.code,
			TokenID:    tok.ID,
		}
		if _, err := a.svc.RecordActivity(r.Context(), act); err != nil {
			// The response already went out; the audit row is dropped.
			obs.LogError("activity_record_failed", map[string]any{
				"endpoint":   act.Endpoint,
				"error":      err.Error(),
				"request_id": RequestIDFromContext(r.Context()),
			})
		}
	})
}

// underPrefix reports whether path is the prefix itself or a route below it,
// so /api/v1x does not count as /api/v1 traffic.
func underPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// captureRequestBody snapshots mutating request bodies and restores the
// stream for the handler. Capture failures only omit the field.
func captureRequestBody(r *http.Request) *string {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil
	}
	if r.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		r.Body = io.NopCloser(bytes.NewReader(nil))
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if len(raw) == 0 {
		return nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err == nil {
		s := compact.String()
		return &s
	}
	// Non-JSON bodies must still be valid UTF-8 for the text column.
	s := strings.ToValidUTF8(string(raw), "�")
	return &s
}

func captureResponseBody(cw *captureWriter) *string {
	if cw.flushed {
		s := streamingSentinel
		return &s
	}
	body := cw.buf.String()
	if body == "" {
		return nil
	}
	ct := cw.Header().Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		return &body
	}
	if len(body) < 1000 {
		body = strings.ToValidUTF8(truncateRunes(body, 500), "�")
		return &body
	}
	return nil
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
