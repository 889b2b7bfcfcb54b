package core

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thenasky/mail-delivery/internal/logger"
	"github.com/thenasky/mail-delivery/internal/middleware"
	"github.com/thenasky/mail-delivery/internal/router"
)

// ModuleRegistrar is implemented by every module that exposes routes
type ModuleRegistrar interface {
	Name() string
	RegisterRoutes(r *mux.Router)
}

// RouterOptions configures NewRouter
type RouterOptions struct {
	Logger     *slog.Logger
	RequestLog logger.RequestLogOptions
	CORS       *middleware.CORSConfig
	Modules    []ModuleRegistrar
}

// NewRouter mounts every module, /metrics and the shared middleware
func NewRouter(opts RouterOptions) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	r := mux.NewRouter()

	for _, module := range opts.Modules {
		module.RegisterRoutes(r)
		log.Debug("module registered", logger.Scope("core"), slog.String("module", module.Name()))
	}

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = notFoundHandler(log)
	r.MethodNotAllowedHandler = router.MethodNotAllowedHandler()

	var h http.Handler = r
	h = middleware.Recovery(log)(h)
	h = middleware.CORS(opts.CORS)(h)
	return logger.RequestLogger(log, opts.RequestLog)(h)
}

func notFoundHandler(log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Log(r.Context(), logger.LevelRoute, "route not found",
			logger.Scope("core"),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))
		router.NewResponse(w).NotFound("Route not found", nil)
	})
}
