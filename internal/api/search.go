package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/aifocusdev/focos-ia-sub000/internal/message"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/labstack/echo/v4"
)

// Searcher runs full-text queries over message bodies.
type Searcher interface {
	SearchMessages(ctx context.Context, query string, conversationID int64, limit int) ([]store.SearchResult, error)
}

// SearchHandler serves message search.
type SearchHandler struct {
	search Searcher
}

func NewSearchHandler(s Searcher) *SearchHandler {
	return &SearchHandler{search: s}
}

func (h *SearchHandler) Register(e *echo.Echo) {
	e.GET("/messages/search", h.Search)
}

type searchQuery struct {
	Q              string `query:"q" validate:"required,max=256"`
	ConversationID int64  `query:"conversation_id" validate:"omitempty,min=1"`
	Limit          int    `query:"limit" validate:"omitempty,min=1,max=200"`
}

// SearchHit is a matching message with its highlighted snippet.
type SearchHit struct {
	Message message.View `json:"message"`
	Snippet string       `json:"snippet"`
}

func (h *SearchHandler) Search(c echo.Context) error {
	var q searchQuery
	if err := bindValid(c, &q); err != nil {
		return err
	}
	query := strings.TrimSpace(q.Q)
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}

	results, err := h.search.SearchMessages(c.Request().Context(), query, q.ConversationID, q.Limit)
	if err != nil {
		// FTS syntax errors surface from SQLite as plain errors.
		if strings.Contains(err.Error(), "fts") || strings.Contains(err.Error(), "syntax") {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid search query")
		}
		return httpError(err)
	}
	hits := make([]SearchHit, 0, len(results))
	for i := range results {
		hits = append(hits, SearchHit{Message: message.NewView(&results[i].Message), Snippet: results[i].Snippet})
	}
	return c.JSON(http.StatusOK, map[string]any{"results": hits})
}
