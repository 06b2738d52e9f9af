package api

import (
	"net/http"

	"github.com/aifocusdev/focos-ia-sub000/internal/status"
	"github.com/labstack/echo/v4"
)

// StatusReporter reports the daemon lifecycle state.
type StatusReporter interface {
	Current() status.State
}

type PingHandler struct {
	status StatusReporter
}

func NewPingHandler(s StatusReporter) *PingHandler {
	return &PingHandler{status: s}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	resp := map[string]string{"status": "ok"}
	if h.status != nil {
		resp["state"] = string(h.status.Current())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
