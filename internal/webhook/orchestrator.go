// Package webhook turns Cloud API webhook deliveries into contacts,
// conversations, messages and receipts.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/aifocusdev/focos-ia-sub000/internal/bus"
	"github.com/aifocusdev/focos-ia-sub000/internal/contact"
	"github.com/aifocusdev/focos-ia-sub000/internal/conversation"
	"github.com/aifocusdev/focos-ia-sub000/internal/message"
	"github.com/aifocusdev/focos-ia-sub000/internal/metrics"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/aifocusdev/focos-ia-sub000/internal/wa"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelism bounds how many entries of one delivery run at once.
const DefaultParallelism = 4

var (
	ErrVerificationFailed = errors.New("webhook verification failed")
	ErrBadSignature       = errors.New("webhook signature mismatch")
	ErrMissingPhoneNumber = errors.New("change without phone_number_id")
	ErrEntryPanicked      = errors.New("entry processing panicked")
)

// Integrations resolves inbound phone number ids.
type Integrations interface {
	Lookup(ctx context.Context, phoneNumberID string) (*store.Integration, error)
}

// Contacts resolves external identities.
type Contacts interface {
	FindOrCreate(ctx context.Context, externalID, name string) (*store.Contact, error)
}

// Conversations resolves and reloads conversations.
type Conversations interface {
	FindOrCreate(ctx context.Context, contactID, integrationID int64) (*store.Conversation, bool, error)
	Get(ctx context.Context, id int64) (*store.Conversation, error)
}

// Messages persists inbound messages.
type Messages interface {
	IngestInbound(ctx context.Context, conv *store.Conversation, raw *wa.Message) (*store.Message, bool, error)
}

// Statuses applies receipts.
type Statuses interface {
	Apply(ctx context.Context, st wa.Status)
}

// Options configure verification.
type Options struct {
	VerifyToken string
	// AppSecret enables signature checks when non-empty.
	AppSecret   string
	Parallelism int
}

// Orchestrator processes webhook deliveries entry by entry.
type Orchestrator struct {
	integrations  Integrations
	contacts      Contacts
	conversations Conversations
	messages      Messages
	statuses      Statuses
	pub           bus.Publisher
	metrics       *metrics.Metrics
	log           *zap.Logger

	verifyToken string
	appSecret   string
	parallelism int
}

func NewOrchestrator(in Integrations, c Contacts, conv Conversations, msgs Messages, st Statuses, pub bus.Publisher, opts Options, m *metrics.Metrics, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	return &Orchestrator{
		integrations:  in,
		contacts:      c,
		conversations: conv,
		messages:      msgs,
		statuses:      st,
		pub:           pub,
		metrics:       m,
		log:           log.Named("webhook"),
		verifyToken:   opts.VerifyToken,
		appSecret:     opts.AppSecret,
		parallelism:   opts.Parallelism,
	}
}

// Verify answers the subscription handshake. It returns the challenge only
// for mode "subscribe" with the configured token.
func (o *Orchestrator) Verify(mode, token, challenge string) (string, error) {
	if mode != "subscribe" || o.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(o.verifyToken)) != 1 {
		return "", ErrVerificationFailed
	}
	return challenge, nil
}

// CheckSignature validates the X-Hub-Signature-256 header. It is a no-op
// when no app secret is configured.
func (o *Orchestrator) CheckSignature(body []byte, header string) error {
	if o.appSecret == "" {
		return nil
	}
	if !wa.VerifySignature(o.appSecret, body, header) {
		return ErrBadSignature
	}
	return nil
}

// EntryOutcome is the result of one webhook entry.
type EntryOutcome struct {
	EntryID  string
	Messages int
	Statuses int
	Err      error
}

// Result collects the outcome of every entry of a delivery.
type Result struct {
	Entries []EntryOutcome
}

// Failed returns how many entries failed.
func (r *Result) Failed() int {
	n := 0
	for _, e := range r.Entries {
		if e.Err != nil {
			n++
		}
	}
	return n
}

// Process handles every entry independently. A failing entry is logged and
// recorded in the result; it never stops its siblings. The returned error is
// non-nil only when ctx ended before the delivery was handled.
func (o *Orchestrator) Process(ctx context.Context, p *wa.Payload) (*Result, error) {
	res := &Result{Entries: make([]EntryOutcome, len(p.Entry))}

	var g errgroup.Group
	g.SetLimit(o.parallelism)
	for i := range p.Entry {
		g.Go(func() error {
			res.Entries[i] = o.processEntry(ctx, &p.Entry[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, e := range res.Entries {
		if e.Err != nil {
			o.metrics.WebhookEntry("failed")
			o.log.Error("webhook entry failed", zap.String("entry", e.EntryID), zap.Error(e.Err))
			continue
		}
		o.metrics.WebhookEntry("ok")
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) processEntry(ctx context.Context, e *wa.Entry) (out EntryOutcome) {
	out.EntryID = e.ID
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%w: %v", ErrEntryPanicked, r)
			o.log.Error("webhook entry panicked", zap.String("entry", e.ID), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	var errs []error
	for i := range e.Changes {
		msgs, sts, err := o.processChange(ctx, &e.Changes[i].Value)
		out.Messages += msgs
		out.Statuses += sts
		if err != nil {
			errs = append(errs, err)
		}
	}
	out.Err = errors.Join(errs...)
	return out
}

func (o *Orchestrator) processChange(ctx context.Context, v *wa.Value) (msgs, sts int, err error) {
	phoneNumberID := v.Metadata.PhoneNumberID
	if phoneNumberID == "" {
		return 0, 0, ErrMissingPhoneNumber
	}
	in, err := o.integrations.Lookup(ctx, phoneNumberID)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve integration %s: %w", phoneNumberID, err)
	}
	log := o.log.With(zap.Int64("integration", in.ID))

	// Profiles first so contacts created by messages get their names.
	names := make(map[string]string, len(v.Contacts))
	for _, p := range v.Contacts {
		names[p.WaID] = p.Profile.Name
		if _, err := o.contacts.FindOrCreate(ctx, p.WaID, p.Profile.Name); err != nil {
			log.Warn("contact profile update failed", zap.String("wa_id", p.WaID), zap.Error(err))
		}
	}

	var errs []error
	for i := range v.Messages {
		raw := &v.Messages[i]
		if err := o.ingest(ctx, in, raw, names[raw.From]); err != nil {
			log.Error("inbound message failed", zap.String("wa_message_id", raw.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		msgs++
	}

	for _, st := range v.Statuses {
		o.statuses.Apply(ctx, st)
		sts++
	}
	return msgs, sts, errors.Join(errs...)
}

// NewConversation is the payload of conversation.new.
type NewConversation struct {
	Conversation conversation.View `json:"conversation"`
	Contact      contact.View      `json:"contact"`
	Message      message.View      `json:"message"`
}

func (o *Orchestrator) ingest(ctx context.Context, in *store.Integration, raw *wa.Message, name string) error {
	c, err := o.contacts.FindOrCreate(ctx, raw.From, name)
	if err != nil {
		return err
	}
	conv, created, err := o.conversations.FindOrCreate(ctx, c.ID, in.ID)
	if err != nil {
		return err
	}
	msg, duplicate, err := o.messages.IngestInbound(ctx, conv, raw)
	if err != nil {
		return err
	}
	if duplicate {
		return nil
	}

	if !created {
		o.pub.Publish(bus.Event{
			Kind:           bus.KindNewMessage,
			ConversationID: conv.ID,
			Payload:        message.NewView(msg),
		})
		return nil
	}

	// Carry the post-ingest counters.
	if fresh, err := o.conversations.Get(ctx, conv.ID); err == nil {
		conv = fresh
	}
	o.pub.Publish(bus.Event{
		Kind:           bus.KindNewConversation,
		ConversationID: conv.ID,
		Payload: NewConversation{
			Conversation: conversation.NewView(conv),
			Contact:      contact.NewView(c),
			Message:      message.NewView(msg),
		},
	})
	return nil
}
