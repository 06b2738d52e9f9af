package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/bus"
	"github.com/aifocusdev/focos-ia-sub000/internal/metrics"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/aifocusdev/focos-ia-sub000/internal/wa"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidSender        = errors.New("sender must be an agent with an agent id or a bot with a bot id")
	ErrEmptyMessage         = errors.New("message has no content")
	ErrInvalidKind          = errors.New("unsupported message kind")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUnknownSender        = errors.New("sender not found")
)

// Store is the persistence ingestion writes through.
type Store interface {
	InsertInboundMessage(ctx context.Context, m *store.Message) (*store.Message, bool, error)
	InsertOutboundMessage(ctx context.Context, m *store.Message, ob *store.OutboxEntry) (*store.Message, error)
	GetMessage(ctx context.Context, id int64) (*store.Message, error)
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	ContactByID(ctx context.Context, id int64) (*store.Contact, error)
	AgentByID(ctx context.Context, id int64) (*store.Agent, error)
	BotByID(ctx context.Context, id int64) (*store.Bot, error)
}

// ReadTracker flips a conversation to unread when a contact writes.
type ReadTracker interface {
	MarkUnreadOnNewMessage(ctx context.Context, conversationID int64) error
}

// MediaProcessor links inbound media to a persisted message. It never fails
// the caller.
type MediaProcessor interface {
	Process(ctx context.Context, msg *store.Message, content wa.Content, integrationID int64) *store.Attachment
}

// Notifier wakes the outbound delivery worker.
type Notifier interface {
	Notify()
}

// Service persists inbound and outbound messages.
type Service struct {
	store   Store
	reads   ReadTracker
	media   MediaProcessor
	cache   *LastMessageCache
	outbox  Notifier
	pub     bus.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates the ingestion service. outbox may be nil, in which case
// queued sends wait for the worker's next poll.
func NewService(s Store, reads ReadTracker, media MediaProcessor, cache *LastMessageCache, outbox Notifier, pub bus.Publisher, m *metrics.Metrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   s,
		reads:   reads,
		media:   media,
		cache:   cache,
		outbox:  outbox,
		pub:     pub,
		metrics: m,
		log:     log.Named("message"),
		now:     time.Now,
	}
}

// IngestInbound persists a contact message on conv and runs the media
// pipeline for it. duplicate reports a redelivered channel message, in which
// case the stored row is returned untouched.
func (s *Service) IngestInbound(ctx context.Context, conv *store.Conversation, raw *wa.Message) (msg *store.Message, duplicate bool, err error) {
	now := s.now()
	content := wa.ParseContent(raw)

	msg, duplicate, err = s.store.InsertInboundMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		SenderType:     store.SenderContact,
		Body:           wa.ExtractBody(content),
		MessageType:    raw.Type,
		WAMessageID:    raw.ID,
		CreatedAt:      wa.ParseTimestamp(raw.Timestamp, now).UnixMilli(),
		DeliveredAt:    now.UnixMilli(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("insert inbound message %s: %w", raw.ID, err)
	}
	if duplicate {
		s.log.Debug("duplicate inbound message", zap.String("wa_message_id", raw.ID), zap.Int64("message_id", msg.ID))
		s.metrics.MessageIngested("duplicate")
		return msg, true, nil
	}
	s.cache.Invalidate(conv.ID)
	s.metrics.MessageIngested("inbound")

	if err := s.reads.MarkUnreadOnNewMessage(ctx, conv.ID); err != nil {
		s.log.Warn("clear read flag failed", zap.Int64("conversation_id", conv.ID), zap.Error(err))
	}

	if _, ok := wa.MediaInfo(content); ok && s.media != nil {
		s.media.Process(ctx, msg, content, conv.IntegrationID)
		// A failure note may have changed the body since the first invalidation.
		s.cache.Invalidate(conv.ID)
		reloaded, err := s.store.GetMessage(ctx, msg.ID)
		if err != nil {
			return nil, false, fmt.Errorf("reload message %d: %w", msg.ID, err)
		}
		msg = reloaded
	}
	return msg, false, nil
}

// OutboundRequest is an agent or bot authored message.
type OutboundRequest struct {
	ConversationID int64
	SenderType     string
	AgentID        int64
	BotID          int64
	Body           string
	// Kind is text or a media type. Media kinds need MediaID or MediaLink;
	// Body becomes the caption.
	Kind      string
	MediaID   string
	MediaLink string
	FileName  string
	// DeliveredAt overrides the delivery time; zero means now.
	DeliveredAt time.Time
}

func (r *OutboundRequest) validate() error {
	switch r.SenderType {
	case store.SenderAgent:
		if r.AgentID <= 0 || r.BotID != 0 {
			return ErrInvalidSender
		}
	case store.SenderBot:
		if r.BotID <= 0 || r.AgentID != 0 {
			return ErrInvalidSender
		}
	default:
		return ErrInvalidSender
	}

	r.Body = strings.TrimSpace(r.Body)
	if r.Kind == "" {
		r.Kind = "text"
	}
	switch {
	case r.Kind == "text":
		if r.Body == "" {
			return ErrEmptyMessage
		}
	case wa.IsMediaType(r.Kind):
		if r.MediaID == "" && r.MediaLink == "" {
			return ErrEmptyMessage
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidKind, r.Kind)
	}
	return nil
}

// checkSender confirms the authoring agent or bot exists.
func (s *Service) checkSender(ctx context.Context, req OutboundRequest) error {
	var err error
	if req.SenderType == store.SenderAgent {
		_, err = s.store.AgentByID(ctx, req.AgentID)
	} else {
		_, err = s.store.BotByID(ctx, req.BotID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s %d", ErrUnknownSender, req.SenderType, req.AgentID+req.BotID)
	}
	if err != nil {
		return fmt.Errorf("load sender: %w", err)
	}
	return nil
}

// IngestOutbound persists the message and queues it for delivery. It
// returns as soon as the row is committed; the channel send happens in the
// background.
func (s *Service) IngestOutbound(ctx context.Context, req OutboundRequest) (*store.Message, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %d: %w", req.ConversationID, err)
	}
	if err := s.checkSender(ctx, req); err != nil {
		return nil, err
	}
	contact, err := s.store.ContactByID(ctx, conv.ContactID)
	if err != nil {
		return nil, fmt.Errorf("load contact %d: %w", conv.ContactID, err)
	}

	now := s.now()
	delivered := req.DeliveredAt
	if delivered.IsZero() {
		delivered = now
	}
	m := &store.Message{
		ConversationID: conv.ID,
		SenderType:     req.SenderType,
		Body:           req.Body,
		MessageType:    req.Kind,
		CreatedAt:      now.UnixMilli(),
		DeliveredAt:    delivered.UnixMilli(),
	}
	if req.AgentID != 0 {
		m.AgentID = &req.AgentID
	}
	if req.BotID != 0 {
		m.BotID = &req.BotID
	}
	ob := &store.OutboxEntry{
		ClientMsgID:   uuid.NewString(),
		IntegrationID: conv.IntegrationID,
		Recipient:     contact.PhoneNumber,
		Kind:          req.Kind,
		Body:          req.Body,
		MediaID:       req.MediaID,
		MediaLink:     req.MediaLink,
		FileName:      req.FileName,
	}

	msg, err := s.store.InsertOutboundMessage(ctx, m, ob)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("insert outbound message: %w", err)
	}
	s.cache.Invalidate(conv.ID)
	s.metrics.MessageIngested("outbound")
	s.log.Info("outbound message queued",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("message_id", msg.ID),
		zap.String("client_msg_id", ob.ClientMsgID),
		zap.String("sender_type", msg.SenderType))

	s.pub.Publish(bus.Event{
		Kind:           bus.KindNewMessage,
		ConversationID: conv.ID,
		Payload:        NewView(msg),
	})
	if s.outbox != nil {
		s.outbox.Notify()
	}
	return msg, nil
}
