package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/aifocusdev/focos-ia-sub000/internal/wa"
	"github.com/aifocusdev/focos-ia-sub000/internal/webhook"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// maxWebhookBody caps a single delivery.
const maxWebhookBody = 5 << 20

// Orchestrator is the webhook pipeline.
type Orchestrator interface {
	Verify(mode, token, challenge string) (string, error)
	CheckSignature(body []byte, header string) error
	Process(ctx context.Context, p *wa.Payload) (*webhook.Result, error)
}

// WebhookHandler serves the channel's webhook endpoint.
type WebhookHandler struct {
	orch Orchestrator
	log  *zap.Logger
}

func NewWebhookHandler(orch Orchestrator, log *zap.Logger) *WebhookHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookHandler{orch: orch, log: log.Named("webhook")}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhook", h.Verify)
	e.POST("/webhook", h.Receive)
}

// Verify answers the subscription handshake. Both the hub.* names the
// channel sends and the bare names are accepted.
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := firstQuery(c, "hub.mode", "mode")
	token := firstQuery(c, "hub.verify_token", "verify_token")
	challenge := firstQuery(c, "hub.challenge", "challenge")

	out, err := h.orch.Verify(mode, token, challenge)
	if err != nil {
		h.log.Warn("webhook verification rejected", zap.String("mode", mode))
		return httpError(err)
	}
	return c.String(http.StatusOK, out)
}

// Receive handles a delivery. Per-entry failures are logged by the
// orchestrator and never turn into HTTP errors.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body")
	}
	if len(body) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}
	if err := h.orch.CheckSignature(body, c.Request().Header.Get(wa.SignatureHeader)); err != nil {
		h.log.Warn("webhook signature rejected", zap.String("remote", c.RealIP()))
		return httpError(err)
	}

	var p wa.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
	}

	// The channel may drop the connection; the delivery is still handled.
	ctx := context.WithoutCancel(c.Request().Context())
	res, err := h.orch.Process(ctx, &p)
	if err != nil {
		h.log.Error("webhook delivery failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "processing failed").SetInternal(err)
	}
	if n := res.Failed(); n > 0 {
		h.log.Warn("webhook delivery had failed entries", zap.Int("failed", n), zap.Int("entries", len(res.Entries)))
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func firstQuery(c echo.Context, names ...string) string {
	for _, n := range names {
		if v := c.QueryParam(n); v != "" {
			return v
		}
	}
	return ""
}

