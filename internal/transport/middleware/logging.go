package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/go-chi/chi/middleware"
)

const (
	maxLoggedBody = 4 << 10
	filtered      = "[FILTERED]"
)

// sensitiveFields match header names and JSON keys case-insensitively by
// substring. Gateway webhooks carry customer documents and contact data.
var sensitiveFields = []string{
	"token",
	"authorization",
	"secret",
	"api_key",
	"apikey",
	"wallet",
	"cpf",
	"cnpj",
	"email",
	"phone",
	"credit_card",
	"creditcard",
}

// quietPrefixes are logged without bodies.
var quietPrefixes = []string{"/swagger/", "/openapi.yml", "/api/v1/ping", "/api/v1/health"}

func LoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			withBodies := !isQuiet(r.URL.Path)

			log := logger.With(
				"request_id", middleware.GetReqID(r.Context()),
				"trace_id", internal.RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
			)

			attrs := []any{
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"headers", maskHeaders(r.Header),
			}
			if withBodies && r.Body != nil {
				body, _ := io.ReadAll(r.Body)
				r.Body = io.NopCloser(bytes.NewReader(body))
				attrs = append(attrs, "body", maskBody(body))
			}
			log.Debug("incoming request", attrs...)

			rec := &recordingWriter{ResponseWriter: w, capture: withBodies}
			next.ServeHTTP(rec, r)

			status := rec.status()
			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			attrs = []any{
				"status_code", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"response_size", rec.size,
			}
			if withBodies {
				attrs = append(attrs, "body", maskBody(rec.body.Bytes()))
			}
			log.Log(r.Context(), level, "request completed", attrs...)
		})
	}
}

// recordingWriter keeps the status code and the head of the response body.
type recordingWriter struct {
	http.ResponseWriter
	code    int
	size    int
	capture bool
	body    bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	if rw.code == 0 {
		rw.code = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	if rw.capture && rw.body.Len() < maxLoggedBody {
		rw.body.Write(b[:min(len(b), maxLoggedBody-rw.body.Len())])
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func (rw *recordingWriter) status() int {
	if rw.code == 0 {
		return http.StatusOK
	}
	return rw.code
}

func isQuiet(path string) bool {
	for _, prefix := range quietPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isSensitive(name string) bool {
	name = strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(name, field) {
			return true
		}
	}
	return false
}

func maskHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if isSensitive(name) {
			out[name] = filtered
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// maskBody masks sensitive JSON keys. Bodies that are not JSON are logged
// only when they mention nothing sensitive.
func maskBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		if isSensitive(string(body)) {
			return filtered
		}
		return truncate(string(body))
	}

	masked, err := json.Marshal(maskValue(data))
	if err != nil {
		return filtered
	}
	return truncate(string(masked))
}

func maskValue(data any) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if isSensitive(key) {
				out[key] = filtered
				continue
			}
			out[key] = maskValue(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = maskValue(item)
		}
		return out
	default:
		return v
	}
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "...(truncated)"
}
