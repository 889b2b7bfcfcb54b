package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"github.com/thenasky/mail-delivery/internal/logger"
	"github.com/thenasky/mail-delivery/internal/router"
)

// ===== Error Recovery Middleware =====

// Recovery recovers from panics and returns proper error responses
func Recovery(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					internalID := generateInternalID()
					log.Error("panic recovered",
						logger.Scope("http"),
						slog.String("internal_id", internalID),
						slog.Any("panic", err),
						slog.String("stack", string(debug.Stack())))

					router.NewResponse(w).InternalError(
						"An unexpected error occurred",
						internalID,
						map[string]interface{}{
							"error": fmt.Sprintf("%v", err),
						},
					)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// generateInternalID generates an id for correlating a response with the log line
func generateInternalID() string {
	return "ERR_" + uuid.NewString()
}

// ===== CORS Middleware =====

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a default CORS configuration
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           86400, // 24 hours
	}
}

// CORS adds CORS headers to responses
func CORS(config *CORSConfig) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultCORSConfig()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(config.AllowedOrigins) > 0 {
				origin := r.Header.Get("Origin")
				if origin != "" {
					allowed := false
					for _, allowedOrigin := range config.AllowedOrigins {
						if allowedOrigin == "*" || allowedOrigin == origin {
							w.Header().Set("Access-Control-Allow-Origin", origin)
							allowed = true
							break
						}
					}
					if !allowed {
						w.Header().Set("Access-Control-Allow-Origin", config.AllowedOrigins[0])
					}
				}
			}

			if len(config.AllowedMethods) > 0 {
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
			}

			if len(config.AllowedHeaders) > 0 {
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
			}

			if config.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if config.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", config.MaxAge))
			}

			// Handle preflight request
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
