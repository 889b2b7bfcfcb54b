package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// RequestLogOptions select which parts of a request get logged
type RequestLogOptions struct {
	Route    bool
	Queries  bool
	Headers  bool
	Body     bool
	Response bool
}

// RequestLogger logs each HTTP request and, when enabled, its response with timing
func RequestLogger(log *slog.Logger, opts RequestLogOptions) func(http.Handler) http.Handler {
	log = log.With(Scope("http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var bodyBytes []byte
			if opts.Body && r.Body != nil {
				bodyBytes, _ = io.ReadAll(r.Body)
				r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			}

			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			if opts.Route {
				log.Log(ctx, LevelRoute, fmt.Sprintf("%s %s", r.Method, r.URL.Path))
			}
			if opts.Queries && r.URL.RawQuery != "" {
				log.Debug("query", slog.String("params", strings.ReplaceAll(r.URL.RawQuery, "&", ", ")))
			}
			if opts.Headers {
				var sb strings.Builder
				for key, value := range r.Header {
					sb.WriteString(fmt.Sprintf("%s: %s, ", key, strings.Join(value, ",")))
				}
				if sb.Len() > 0 {
					log.Debug("headers", slog.String("headers", strings.TrimSuffix(sb.String(), ", ")))
				}
			}
			if opts.Body && len(bodyBytes) > 0 {
				log.Debug("body\n" + prettyPrintJSON(bodyBytes))
			}

			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(lrw, r)

			if opts.Response {
				logResponse(ctx, log, lrw, time.Since(start))
			}
		})
	}
}

func logResponse(ctx context.Context, log *slog.Logger, lrw *loggingResponseWriter, elapsed time.Duration) {
	level := slog.LevelInfo
	switch {
	case lrw.statusCode >= 500:
		level = slog.LevelError
	case lrw.statusCode >= 400:
		level = slog.LevelWarn
	}
	body := fmt.Sprintf("Status: %d", lrw.statusCode)
	if len(lrw.body) > 0 {
		body = prettyPrintJSON(lrw.body)
	}
	log.Log(ctx, level, fmt.Sprintf("%s - %d - %s", formatElapsed(elapsed), lrw.statusCode, body))
}

func formatElapsed(elapsed time.Duration) string {
	switch {
	case elapsed >= time.Millisecond:
		return fmt.Sprintf("%.2fms", float64(elapsed.Nanoseconds())/1e6)
	case elapsed >= time.Microsecond:
		return fmt.Sprintf("%.2fµs", float64(elapsed.Nanoseconds())/1e3)
	case elapsed == 0:
		return "<0.01µs"
	default:
		return fmt.Sprintf("%dns", elapsed.Nanoseconds())
	}
}

func prettyPrintJSON(b []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "  "); err != nil {
		return string(b)
	}
	return out.String()
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(data []byte) (int, error) {
	lrw.body = append(lrw.body, data...)
	return lrw.ResponseWriter.Write(data)
}
