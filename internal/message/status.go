package message

import (
	"context"
	"errors"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/bus"
	"github.com/aifocusdev/focos-ia-sub000/internal/metrics"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/aifocusdev/focos-ia-sub000/internal/wa"
	"go.uber.org/zap"
)

// Receipt statuses the channel reports.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// StatusStore applies receipts.
type StatusStore interface {
	UpdateMessageStatus(ctx context.Context, waMessageID string, deliveredAt, readAt int64) (*store.Message, error)
}

// StatusSync reconciles delivery and read receipts with stored messages.
// It is best effort: nothing is retried and nothing is returned.
type StatusSync struct {
	store   StatusStore
	pub     bus.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewStatusSync(s StatusStore, pub bus.Publisher, m *metrics.Metrics, log *zap.Logger) *StatusSync {
	if log == nil {
		log = zap.NewNop()
	}
	return &StatusSync{store: s, pub: pub, metrics: m, log: log.Named("status"), now: time.Now}
}

// Apply records one receipt. Unknown message ids are logged and ignored.
func (s *StatusSync) Apply(ctx context.Context, st wa.Status) {
	at := wa.ParseTimestamp(st.Timestamp, s.now())

	var deliveredAt, readAt int64
	switch st.Status {
	case StatusDelivered:
		deliveredAt = at.UnixMilli()
	case StatusRead:
		readAt = at.UnixMilli()
	case StatusFailed:
		s.log.Warn("channel reported send failure", zap.String("wa_message_id", st.ID), zap.String("recipient", st.RecipientID))
		s.metrics.StatusUpdate("ignored")
		return
	default:
		s.metrics.StatusUpdate("ignored")
		return
	}

	msg, err := s.store.UpdateMessageStatus(ctx, st.ID, deliveredAt, readAt)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Info("status for unknown message", zap.String("wa_message_id", st.ID), zap.String("status", st.Status))
		s.metrics.StatusUpdate("unknown")
		return
	}
	if err != nil {
		s.log.Error("apply status failed", zap.String("wa_message_id", st.ID), zap.String("status", st.Status), zap.Error(err))
		s.metrics.StatusUpdate("error")
		return
	}
	s.metrics.StatusUpdate("applied")

	change := bus.StatusChange{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Status:         st.Status,
	}
	if deliveredAt != 0 {
		t := time.UnixMilli(msg.DeliveredAt).UTC()
		change.DeliveredAt = &t
	}
	if msg.ReadAt != 0 {
		t := time.UnixMilli(msg.ReadAt).UTC()
		change.ReadAt = &t
	}
	s.pub.Publish(bus.Event{
		Kind:           bus.KindMessageStatus,
		ConversationID: msg.ConversationID,
		Payload:        change,
	})
}
