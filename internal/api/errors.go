package api

import (
	"errors"
	"net/http"

	"github.com/aifocusdev/focos-ia-sub000/internal/conversation"
	"github.com/aifocusdev/focos-ia-sub000/internal/integration"
	"github.com/aifocusdev/focos-ia-sub000/internal/message"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/aifocusdev/focos-ia-sub000/internal/webhook"
	"github.com/labstack/echo/v4"
)

// httpError maps domain errors to HTTP errors. Unknown errors become 500s
// carrying the original error for the error handler to log.
func httpError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	switch {
	case errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, conversation.ErrAgentNotFound),
		errors.Is(err, message.ErrConversationNotFound),
		errors.Is(err, message.ErrUnknownSender),
		errors.Is(err, integration.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, conversation.ErrAlreadyAssigned),
		errors.Is(err, conversation.ErrSweepRunning),
		errors.Is(err, store.ErrInUse):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, conversation.ErrAccessDenied),
		errors.Is(err, webhook.ErrVerificationFailed),
		errors.Is(err, webhook.ErrBadSignature):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, message.ErrInvalidSender),
		errors.Is(err, message.ErrEmptyMessage),
		errors.Is(err, message.ErrInvalidKind),
		errors.Is(err, message.ErrInvalidCursor):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}
