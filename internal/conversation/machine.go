package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/bus"
	"github.com/aifocusdev/focos-ia-sub000/internal/lock"
	"github.com/aifocusdev/focos-ia-sub000/internal/metrics"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultStaleAfter    = 35 * time.Minute
	DefaultFallbackBotID = 1
)

var (
	ErrNotFound        = errors.New("conversation not found")
	ErrAlreadyAssigned = errors.New("conversation already assigned to an agent")
	ErrAccessDenied    = errors.New("conversation access denied")
	ErrAgentNotFound   = errors.New("agent not found")
	ErrSweepRunning    = errors.New("sweep already running")
)

// Store is the persistence the state machine writes through.
type Store interface {
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	AgentByID(ctx context.Context, id int64) (*store.Agent, error)
	AssignAgent(ctx context.Context, id, agentID int64) (*store.Conversation, error)
	Unassign(ctx context.Context, id int64) (*store.Conversation, error)
	MarkConversationRead(ctx context.Context, id int64) (*store.Conversation, error)
	IncrementUnread(ctx context.Context, id int64) (*store.Conversation, error)
	ClearReadFlag(ctx context.Context, id int64) error
	StaleAgentConversations(ctx context.Context, before int64) ([]store.Conversation, error)
	ReassignToBot(ctx context.Context, id, botID, before int64) (*store.Conversation, error)
}

// Options tune the sweep.
type Options struct {
	StaleAfter    time.Duration
	FallbackBotID int64
}

// Machine is the sole writer of assignment fields and unread bookkeeping
// outside message ingestion.
type Machine struct {
	store   Store
	pub     bus.Publisher
	log     *zap.Logger
	metrics *metrics.Metrics

	staleAfter    time.Duration
	fallbackBotID int64
	now           func() time.Time
	sweeping      lock.Guard
}

func NewMachine(s Store, pub bus.Publisher, opts Options, m *metrics.Metrics, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.FallbackBotID <= 0 {
		opts.FallbackBotID = DefaultFallbackBotID
	}
	return &Machine{
		store:         s,
		pub:           pub,
		log:           log.Named("assignment"),
		metrics:       m,
		staleAfter:    opts.StaleAfter,
		fallbackBotID: opts.FallbackBotID,
		now:           time.Now,
	}
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrAlreadyAssigned
	}
	return err
}

// Assign gives the conversation to agentID, or to the acting agent when
// agentID is zero. It fails with ErrAlreadyAssigned when an agent already
// holds the conversation; handoff goes through Unassign first.
func (m *Machine) Assign(ctx context.Context, conversationID, actorID, agentID int64) (*store.Conversation, error) {
	if agentID == 0 {
		agentID = actorID
	}
	if _, err := m.store.AgentByID(ctx, agentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("load agent %d: %w", agentID, err)
	}

	conv, err := m.store.AssignAgent(ctx, conversationID, agentID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	m.log.Info("conversation assigned",
		zap.Int64("conversation_id", conversationID),
		zap.Int64("agent_id", agentID),
		zap.Int64("actor_id", actorID))
	m.publishAssignment(conv)
	return conv, nil
}

// Unassign clears both assignment fields unconditionally.
func (m *Machine) Unassign(ctx context.Context, conversationID int64) (*store.Conversation, error) {
	conv, err := m.store.Unassign(ctx, conversationID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	m.pub.Publish(bus.Event{
		Kind:           bus.KindConversationAssign,
		ConversationID: conv.ID,
		Payload:        bus.Assignment{ConversationID: conv.ID},
	})
	return conv, nil
}

// checkAccess allows unassigned conversations, those held by the actor and
// those held by a bot.
func checkAccess(conv *store.Conversation, actorID int64) error {
	if conv.AssignedAgentID == nil || *conv.AssignedAgentID == actorID || conv.AssignedBotID != nil {
		return nil
	}
	return ErrAccessDenied
}

func (m *Machine) loadForActor(ctx context.Context, conversationID, actorID int64) (*store.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if err := checkAccess(conv, actorID); err != nil {
		return nil, err
	}
	return conv, nil
}

// MarkRead sets the read flag and zeroes the unread counter.
func (m *Machine) MarkRead(ctx context.Context, conversationID, actorID int64) (*store.Conversation, error) {
	if _, err := m.loadForActor(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	conv, err := m.store.MarkConversationRead(ctx, conversationID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	m.publishUnread(bus.KindConversationRead, conv, actorID)
	return conv, nil
}

// MarkUnread clears the read flag and atomically increments the counter.
func (m *Machine) MarkUnread(ctx context.Context, conversationID, actorID int64) (*store.Conversation, error) {
	if _, err := m.loadForActor(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	conv, err := m.store.IncrementUnread(ctx, conversationID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	m.publishUnread(bus.KindConversationUnread, conv, actorID)
	return conv, nil
}

// MarkUnreadOnNewMessage clears the read flag. Message ingestion increments
// the counter itself.
func (m *Machine) MarkUnreadOnNewMessage(ctx context.Context, conversationID int64) error {
	return mapStoreErr(m.store.ClearReadFlag(ctx, conversationID))
}

// SweepResult is the outcome of one sweep.
type SweepResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// Sweep reassigns every agent-held conversation untouched for longer than the
// stale threshold to the fallback bot. Failures are isolated per
// conversation. Returns ErrSweepRunning if another sweep is in progress.
func (m *Machine) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		res SweepResult
		err error
	)
	if !m.sweeping.TryRun(func() { res, err = m.sweep(ctx) }) {
		return SweepResult{}, ErrSweepRunning
	}
	return res, err
}

func (m *Machine) sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	cutoff := m.now().Add(-m.staleAfter).UnixMilli()

	stale, err := m.store.StaleAgentConversations(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("select stale conversations: %w", err)
	}

	for _, c := range stale {
		if ctx.Err() != nil {
			break
		}
		conv, err := m.store.ReassignToBot(ctx, c.ID, m.fallbackBotID, cutoff)
		if errors.Is(err, store.ErrConflict) {
			// Touched or reassigned since selection.
			continue
		}
		if err != nil {
			res.Errors++
			m.log.Error("sweep reassign failed", zap.Int64("conversation_id", c.ID), zap.Error(err))
			continue
		}
		res.Processed++
		m.log.Info("conversation reassigned to fallback bot",
			zap.Int64("conversation_id", conv.ID),
			zap.Int64p("previous_agent_id", c.AssignedAgentID),
			zap.Int64("bot_id", m.fallbackBotID))
		m.publishAssignment(conv)
	}

	m.metrics.Sweep(res.Processed, res.Errors)
	if len(stale) > 0 {
		m.log.Info("sweep finished",
			zap.Int("candidates", len(stale)),
			zap.Int("processed", res.Processed),
			zap.Int("errors", res.Errors))
	}
	return res, nil
}

// publishAssignment emits the assignment and unread-reset pair shared by
// manual assignment and the sweep.
func (m *Machine) publishAssignment(conv *store.Conversation) {
	m.pub.Publish(bus.Event{
		Kind:           bus.KindConversationAssign,
		ConversationID: conv.ID,
		Payload: bus.Assignment{
			ConversationID: conv.ID,
			AgentID:        conv.AssignedAgentID,
			BotID:          conv.AssignedBotID,
		},
	})
	m.publishUnread(bus.KindConversationReset, conv, 0)
}

func (m *Machine) publishUnread(kind string, conv *store.Conversation, actorID int64) {
	m.pub.Publish(bus.Event{
		Kind:           kind,
		ConversationID: conv.ID,
		UserID:         actorID,
		Payload: bus.UnreadChange{
			ConversationID: conv.ID,
			UnreadCount:    conv.UnreadCount,
			Read:           conv.Read,
			UserID:         actorID,
		},
	})
}
