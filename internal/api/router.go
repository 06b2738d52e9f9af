// Package api exposes the CRM over HTTP with echo.
package api

import (
	"net/http"
	"strings"

	"github.com/aifocusdev/focos-ia-sub000/internal/auth"
	"github.com/aifocusdev/focos-ia-sub000/internal/media"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Registrar mounts a handler's routes.
type Registrar interface {
	Register(e *echo.Echo)
}

// RouterOptions carries the pieces of the HTTP surface that are not
// handler structs.
type RouterOptions struct {
	JWTSecret string
	// MediaRoot is served read-only under media.RoutePrefix when set.
	MediaRoot string
	Metrics   http.Handler
	Realtime  echo.HandlerFunc
}

var publicPaths = map[string]bool{
	"/ping":    true,
	"/health":  true,
	"/webhook": true,
	"/metrics": true,
}

// NewRouter builds the echo instance with auth, logging and every route.
// Everything except the ops endpoints, the webhook and stored media requires
// a bearer JWT.
func NewRouter(opts RouterOptions, log *zap.Logger, handlers ...Registrar) *echo.Echo {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = errorHandler(e, log)

	e.Use(middleware.Recover())
	e.Use(requestLogger(log))
	e.Use(auth.JWTMiddleware(opts.JWTSecret, func(c echo.Context) bool {
		path := c.Request().URL.Path
		return publicPaths[path] || strings.HasPrefix(path, media.RoutePrefix+"/")
	}))

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}
	if opts.Realtime != nil {
		e.GET("/ws", opts.Realtime)
	}
	if opts.MediaRoot != "" {
		e.Static(media.RoutePrefix, opts.MediaRoot)
	}
	return e
}

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			log.Debug("request", fields...)
			return nil
		},
	})
}

// errorHandler logs server-side failures before echo renders them.
func errorHandler(e *echo.Echo, log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if he, ok := err.(*echo.HTTPError); ok && he.Code >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Error(he.Unwrap()))
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}
