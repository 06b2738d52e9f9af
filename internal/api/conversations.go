package api

import (
	"context"
	"net/http"

	"github.com/aifocusdev/focos-ia-sub000/internal/auth"
	"github.com/aifocusdev/focos-ia-sub000/internal/conversation"
	"github.com/aifocusdev/focos-ia-sub000/internal/message"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ConversationStore is the read side used by the conversation endpoints.
type ConversationStore interface {
	message.PageStore
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	ListConversations(ctx context.Context, limit, offset int) ([]store.Conversation, error)
}

// LastMessages resolves a conversation's latest message.
type LastMessages interface {
	Get(ctx context.Context, conversationID int64) (*store.Message, error)
}

// Assignments are the agent-facing state transitions.
type Assignments interface {
	Assign(ctx context.Context, conversationID, actorID, agentID int64) (*store.Conversation, error)
	Unassign(ctx context.Context, conversationID int64) (*store.Conversation, error)
	MarkRead(ctx context.Context, conversationID, actorID int64) (*store.Conversation, error)
	MarkUnread(ctx context.Context, conversationID, actorID int64) (*store.Conversation, error)
}

// OutboundMessages persists agent messages and queues their delivery.
type OutboundMessages interface {
	IngestOutbound(ctx context.Context, req message.OutboundRequest) (*store.Message, error)
}

// ConversationHandler serves the agent-facing conversation endpoints.
type ConversationHandler struct {
	store    ConversationStore
	last     LastMessages
	assign   Assignments
	outbound OutboundMessages
	log      *zap.Logger
}

func NewConversationHandler(s ConversationStore, last LastMessages, a Assignments, out OutboundMessages, log *zap.Logger) *ConversationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConversationHandler{store: s, last: last, assign: a, outbound: out, log: log.Named("conversations")}
}

func (h *ConversationHandler) Register(e *echo.Echo) {
	g := e.Group("/conversations")
	g.GET("", h.List)
	g.GET("/:id/messages", h.Messages)
	g.POST("/:id/messages", h.Send)
	g.POST("/:id/assign", h.Assign)
	g.POST("/:id/unassign", h.Unassign)
	g.POST("/:id/read", h.MarkRead)
	g.POST("/:id/unread", h.MarkUnread)
}

// ConversationItem is a list entry: the conversation and its latest message.
type ConversationItem struct {
	conversation.View
	LastMessage *message.View `json:"last_message"`
}

type listQuery struct {
	Limit  int `query:"limit" validate:"omitempty,min=1,max=200"`
	Offset int `query:"offset" validate:"omitempty,min=0"`
}

// List returns conversations by most recent activity with their last message.
func (h *ConversationHandler) List(c echo.Context) error {
	var q listQuery
	if err := bindValid(c, &q); err != nil {
		return err
	}
	if q.Limit == 0 {
		q.Limit = defaultListLimit
	}
	ctx := c.Request().Context()

	convs, err := h.store.ListConversations(ctx, q.Limit, q.Offset)
	if err != nil {
		return httpError(err)
	}
	items := make([]ConversationItem, 0, len(convs))
	for i := range convs {
		item := ConversationItem{View: conversation.NewView(&convs[i])}
		last, err := h.last.Get(ctx, convs[i].ID)
		if err != nil {
			return httpError(err)
		}
		if last != nil {
			v := message.NewView(last)
			item.LastMessage = &v
		}
		items = append(items, item)
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": items})
}

type pageQuery struct {
	Cursor    string `query:"cursor"`
	Direction string `query:"direction" validate:"omitempty,oneof=asc desc"`
	Limit     int    `query:"limit" validate:"omitempty,min=1,max=200"`
}

// Messages returns one cursor page of a conversation's history, newest
// first unless direction=asc.
func (h *ConversationHandler) Messages(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var q pageQuery
	if err := bindValid(c, &q); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.store.GetConversation(ctx, id); err != nil {
		return httpError(err)
	}

	page, err := message.LoadPage(ctx, h.store, message.PageRequest{
		ConversationID: id,
		Cursor:         q.Cursor,
		Ascending:      q.Direction == "asc",
		Limit:          q.Limit,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, page)
}

type sendRequest struct {
	Body      string `json:"body" validate:"max=4096"`
	Kind      string `json:"kind" validate:"omitempty,oneof=text image video audio document"`
	MediaID   string `json:"media_id"`
	MediaLink string `json:"media_link" validate:"omitempty,url"`
	FileName  string `json:"file_name" validate:"max=255"`
}

// Send persists an agent message and returns it without waiting for the
// channel.
func (h *ConversationHandler) Send(c echo.Context) error {
	p, err := auth.PrincipalFromContext(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req sendRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	msg, err := h.outbound.IngestOutbound(c.Request().Context(), message.OutboundRequest{
		ConversationID: id,
		SenderType:     store.SenderAgent,
		AgentID:        p.UserID,
		Body:           req.Body,
		Kind:           req.Kind,
		MediaID:        req.MediaID,
		MediaLink:      req.MediaLink,
		FileName:       req.FileName,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, message.NewView(msg))
}

type assignRequest struct {
	AgentID int64 `json:"agent_id" validate:"omitempty,min=1"`
}

// Assign hands the conversation to agent_id, or to the caller when omitted.
func (h *ConversationHandler) Assign(c echo.Context) error {
	p, err := auth.PrincipalFromContext(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req assignRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	conv, err := h.assign.Assign(c.Request().Context(), id, p.UserID, req.AgentID)
	return h.respond(c, conv, err)
}

func (h *ConversationHandler) Unassign(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	conv, err := h.assign.Unassign(c.Request().Context(), id)
	return h.respond(c, conv, err)
}

func (h *ConversationHandler) MarkRead(c echo.Context) error {
	return h.unreadTransition(c, h.assign.MarkRead)
}

func (h *ConversationHandler) MarkUnread(c echo.Context) error {
	return h.unreadTransition(c, h.assign.MarkUnread)
}

func (h *ConversationHandler) unreadTransition(c echo.Context, fn func(context.Context, int64, int64) (*store.Conversation, error)) error {
	p, err := auth.PrincipalFromContext(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	conv, err := fn(c.Request().Context(), id, p.UserID)
	return h.respond(c, conv, err)
}

func (h *ConversationHandler) respond(c echo.Context, conv *store.Conversation, err error) error {
	if err != nil {
		h.log.Debug("conversation transition rejected",
			zap.String("path", c.Path()), zap.String("id", c.Param("id")), zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conversation.NewView(conv))
}

