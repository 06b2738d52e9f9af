// Package outbox delivers queued agent and bot messages to the channel in
// the background.
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/bus"
	"github.com/aifocusdev/focos-ia-sub000/internal/metrics"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/aifocusdev/focos-ia-sub000/internal/wa"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultRPS          = 20
	DefaultBurst        = 5
	batchSize           = 50
)

// Store is the outbox persistence the sender drains.
type Store interface {
	PendingOutbox(ctx context.Context, limit int) ([]store.OutboxEntry, error)
	MarkOutboxSending(ctx context.Context, clientMsgID string) error
	MarkOutboxSent(ctx context.Context, clientMsgID, serverMsgID string) error
	MarkOutboxFailed(ctx context.Context, clientMsgID, errMsg string) error
	RequeueSending(ctx context.Context) (int64, error)
}

// MessageSender sends one message through the channel API.
type MessageSender interface {
	Send(ctx context.Context, cred wa.Credentials, msg wa.Outbound) (string, error)
}

// Integrations resolves credentials by internal id.
type Integrations interface {
	Get(ctx context.Context, id int64) (*store.Integration, error)
}

// Options tune polling and pacing.
type Options struct {
	PollInterval time.Duration
	RPS          float64
	Burst        int
}

// Sender drains the outbox and sends messages via the Cloud API. Failures
// are recorded on the entry and logged; nothing is retried automatically.
type Sender struct {
	store        Store
	sender       MessageSender
	integrations Integrations
	pub          bus.Publisher
	metrics      *metrics.Metrics
	logger       *zap.Logger

	interval time.Duration
	limiter  *rate.Limiter
	wake     chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSender creates a new outbox sender.
func NewSender(s Store, sender MessageSender, in Integrations, pub bus.Publisher, opts Options, m *metrics.Metrics, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RPS <= 0 {
		opts.RPS = DefaultRPS
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	return &Sender{
		store:        s,
		sender:       sender,
		integrations: in,
		pub:          pub,
		metrics:      m,
		logger:       logger.Named("outbox"),
		interval:     opts.PollInterval,
		limiter:      rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		wake:         make(chan struct{}, 1),
	}
}

// Start requeues entries a previous run left mid-send and begins polling.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.store.RequeueSending(ctx); err != nil {
		s.logger.Error("failed to requeue interrupted sends", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted sends", zap.Int64("count", n))
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop stops the sender loop and waits for the current batch.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Notify wakes the loop without waiting for the next tick.
func (s *Sender) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-s.wake:
		case <-ctx.Done():
			return
		}
		s.processPending(ctx)
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.store.PendingOutbox(ctx, batchSize)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to read outbox", zap.Error(err))
		}
		return
	}

	for _, entry := range pending {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		s.deliver(ctx, entry)
	}
}

func (s *Sender) deliver(ctx context.Context, entry store.OutboxEntry) {
	log := s.logger.With(
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.Int64("message_id", entry.MessageID))

	if err := s.store.MarkOutboxSending(ctx, entry.ClientMsgID); err != nil {
		log.Error("failed to mark sending", zap.Error(err))
		return
	}

	serverMsgID, err := s.send(ctx, entry)
	if err != nil {
		log.Error("failed to send message", zap.Error(err))
		s.metrics.OutboxSend("failed")
		// The loop context may be gone; the failure must still be recorded.
		if err := s.store.MarkOutboxFailed(context.WithoutCancel(ctx), entry.ClientMsgID, err.Error()); err != nil {
			log.Error("failed to mark failed", zap.Error(err))
		}
		s.publish(entry, "failed")
		return
	}

	if err := s.store.MarkOutboxSent(ctx, entry.ClientMsgID, serverMsgID); err != nil {
		log.Error("failed to mark sent", zap.Error(err))
	}
	s.metrics.OutboxSend("sent")
	log.Info("message sent", zap.String("server_msg_id", serverMsgID))
	s.publish(entry, "sent")
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) (string, error) {
	in, err := s.integrations.Get(ctx, entry.IntegrationID)
	if err != nil {
		return "", fmt.Errorf("resolve integration %d: %w", entry.IntegrationID, err)
	}
	return s.sender.Send(ctx, wa.CredentialsFor(in), wa.Outbound{
		To:       entry.Recipient,
		Kind:     entry.Kind,
		Body:     entry.Body,
		MediaID:  entry.MediaID,
		Link:     entry.MediaLink,
		Filename: entry.FileName,
	})
}

func (s *Sender) publish(entry store.OutboxEntry, status string) {
	s.pub.Publish(bus.Event{
		Kind:           bus.KindMessageStatus,
		ConversationID: entry.ConversationID,
		Payload: bus.StatusChange{
			ConversationID: entry.ConversationID,
			MessageID:      entry.MessageID,
			Status:         status,
		},
	})
}
