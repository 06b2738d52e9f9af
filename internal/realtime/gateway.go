// Package realtime fans domain events out to agent websocket connections.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/auth"
	"github.com/aifocusdev/focos-ia-sub000/internal/bus"
	"github.com/aifocusdev/focos-ia-sub000/internal/metrics"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Client events.
const (
	EventJoin     = "join-conversation"
	EventLeave    = "leave-conversation"
	EventMarkRead = "mark-conversation-read"
	EventError    = "error"
	EventJoined   = "joined-conversation"
	EventLeft     = "left-conversation"
)

const (
	DefaultRateLimit     = 30
	DefaultRateWindow    = time.Minute
	DefaultPruneInterval = time.Minute
	subscriberBuffer     = 256
)

// scope says who receives a server event.
type scope int

const (
	toRoom scope = iota
	toAll
	toUserAndRoom
)

type route struct {
	event string
	scope scope
}

var routes = map[string]route{
	bus.KindNewMessage:         {"new-message", toRoom},
	bus.KindMessageStatus:      {"message-status-changed", toRoom},
	bus.KindNewConversation:    {"new-conversation", toAll},
	bus.KindConversationAssign: {"conversation-assigned", toAll},
	bus.KindConversationReset:  {"conversation-unread-reset", toAll},
	bus.KindConversationRead:   {"conversation-read", toUserAndRoom},
	bus.KindConversationUnread: {"conversation-unread", toUserAndRoom},
}

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type conversationRef struct {
	ConversationID int64 `json:"conversation_id"`
}

type errorData struct {
	Message string `json:"message"`
}

// ReadMarker marks a conversation read on behalf of a user.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID, actorID int64) (*store.Conversation, error)
}

// Subscriber is the event source the gateway drains.
type Subscriber interface {
	SubscribeMany(namespaces []string, bufSize int) (<-chan bus.Event, func())
}

// Options tune rate limiting.
type Options struct {
	RateLimit     int
	RateWindow    time.Duration
	PruneInterval time.Duration
}

// Gateway owns the websocket endpoint, the connection registry and rooms.
type Gateway struct {
	registry *Registry
	rooms    *Rooms
	limiter  *SlidingWindow
	reads    ReadMarker
	events   Subscriber
	metrics  *metrics.Metrics
	log      *zap.Logger
	upgrader websocket.Upgrader
	prune    time.Duration
}

func NewGateway(events Subscriber, reads ReadMarker, opts Options, m *metrics.Metrics, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = DefaultRateWindow
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = DefaultPruneInterval
	}
	return &Gateway{
		registry: NewRegistry(),
		rooms:    NewRooms(),
		limiter:  NewSlidingWindow(opts.RateLimit, opts.RateWindow),
		reads:    reads,
		events:   events,
		metrics:  m,
		log:      log.Named("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers authenticate with a bearer token, not cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		prune: opts.PruneInterval,
	}
}

// Registry exposes the connection registry.
func (g *Gateway) Registry() *Registry { return g.registry }

// Rooms exposes room membership.
func (g *Gateway) Rooms() *Rooms { return g.rooms }

// Run fans bus events out and prunes the rate limiter until ctx ends.
func (g *Gateway) Run(ctx context.Context) {
	ch, unsub := g.events.SubscribeMany([]string{"message.", "conversation."}, subscriberBuffer)
	defer unsub()
	ticker := time.NewTicker(g.prune)
	defer ticker.Stop()

	for {
		select {
		case evt := <-ch:
			g.dispatch(evt)
		case <-ticker.C:
			if n := g.limiter.Prune(); n > 0 {
				g.log.Debug("rate limiter pruned", zap.Int("users", n))
			}
		case <-ctx.Done():
			for _, c := range g.registry.All() {
				c.close()
			}
			return
		}
	}
}

func (g *Gateway) dispatch(evt bus.Event) {
	r, ok := routes[evt.Kind]
	if !ok {
		return
	}
	frame, err := encode(r.event, evt.Payload)
	if err != nil {
		g.log.Error("encode event", zap.String("kind", evt.Kind), zap.Error(err))
		return
	}

	var targets []*Conn
	switch r.scope {
	case toAll:
		targets = g.registry.All()
	case toRoom:
		targets = g.rooms.Members(evt.ConversationID)
	case toUserAndRoom:
		seen := make(map[string]bool)
		for _, c := range append(g.registry.Connections(evt.UserID), g.rooms.Members(evt.ConversationID)...) {
			if !seen[c.id] {
				seen[c.id] = true
				targets = append(targets, c)
			}
		}
	}
	for _, c := range targets {
		if !c.enqueue(frame) {
			g.log.Warn("dropping slow connection", zap.String("conn", c.id), zap.Int64("user_id", c.userID))
			c.close()
		}
	}
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// Handle upgrades an authenticated request and serves the connection until
// it closes. Requests without a principal are rejected before the upgrade.
func (g *Gateway) Handle(c echo.Context) error {
	p, err := auth.PrincipalFromContext(c)
	if err != nil {
		return err
	}
	ws, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already replied.
		g.log.Debug("websocket upgrade failed", zap.Error(err))
		return nil
	}

	conn := newConn(ws, p.UserID)
	g.registry.Add(conn)
	g.metrics.ConnectionOpened()
	g.log.Info("websocket connected", zap.String("conn", conn.id), zap.Int64("user_id", p.UserID))
	go conn.writePump()

	defer func() {
		g.rooms.LeaveAll(conn)
		g.registry.Remove(conn)
		conn.close()
		g.metrics.ConnectionClosed()
		g.log.Info("websocket disconnected", zap.String("conn", conn.id), zap.Int64("user_id", p.UserID))
	}()

	g.readLoop(c.Request().Context(), conn)
	return nil
}

func (g *Gateway) readLoop(ctx context.Context, c *Conn) {
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Debug("websocket read error", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}

		if !g.limiter.Allow(c.userID) {
			g.metrics.RateLimited()
			g.log.Warn("websocket rate limit exceeded", zap.Int64("user_id", c.userID))
			g.sendError(c, "rate limit exceeded")
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			g.sendError(c, "malformed frame")
			continue
		}
		if err := g.handleFrame(ctx, c, f); err != nil {
			g.sendError(c, err.Error())
		}
	}
}

func (g *Gateway) handleFrame(ctx context.Context, c *Conn, f Frame) error {
	var ref conversationRef
	if err := json.Unmarshal(f.Data, &ref); err != nil || ref.ConversationID <= 0 {
		return errors.New("conversation_id is required")
	}

	switch f.Event {
	case EventJoin:
		g.rooms.Join(ref.ConversationID, c)
		g.reply(c, EventJoined, ref)
	case EventLeave:
		g.rooms.Leave(ref.ConversationID, c)
		g.reply(c, EventLeft, ref)
	case EventMarkRead:
		if _, err := g.reads.MarkRead(ctx, ref.ConversationID, c.userID); err != nil {
			return err
		}
	default:
		return errors.New("unknown event " + f.Event)
	}
	return nil
}

func (g *Gateway) reply(c *Conn, event string, payload any) {
	frame, err := encode(event, payload)
	if err == nil {
		c.enqueue(frame)
	}
}

func (g *Gateway) sendError(c *Conn, msg string) {
	g.reply(c, EventError, errorData{Message: msg})
}
