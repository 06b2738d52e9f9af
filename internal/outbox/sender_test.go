package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/bus"
	"github.com/aifocusdev/focos-ia-sub000/internal/integration"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/aifocusdev/focos-ia-sub000/internal/wa"
	"go.uber.org/zap"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

type sendCall struct {
	Cred wa.Credentials
	Msg  wa.Outbound
}

func (m *mockSender) Send(_ context.Context, cred wa.Credentials, msg wa.Outbound) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sendCall{Cred: cred, Msg: msg})
	if m.err != nil {
		return "", m.err
	}
	return "wamid.server-" + msg.To, nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// queue stores an agent message with its outbox entry.
func queue(t *testing.T, db *store.DB, ob *store.OutboxEntry) (*store.Conversation, *store.Message) {
	t.Helper()
	ctx := context.Background()
	in, err := db.UpsertIntegration(ctx, &store.Integration{PhoneNumberID: "PNID", AccessToken: "tok", APIVersion: "v20.0"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := db.UpsertContact(ctx, "5511", "")
	if err != nil {
		t.Fatal(err)
	}
	conv, _, err := db.FindOrCreateConversation(ctx, c.ID, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	agent, err := db.CreateAgent(ctx, "Ana", "agent")
	if err != nil {
		t.Fatal(err)
	}
	ob.IntegrationID = in.ID
	ob.Recipient = c.PhoneNumber
	msg, err := db.InsertOutboundMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		SenderType:     store.SenderAgent,
		AgentID:        &agent.ID,
		Body:           ob.Body,
		MessageType:    "text",
		CreatedAt:      1000,
		DeliveredAt:    1000,
	}, ob)
	if err != nil {
		t.Fatal(err)
	}
	return conv, msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSenderDeliversQueuedMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{}
	logger, _ := zap.NewDevelopment()
	s := NewSender(db, mock, integration.NewRegistry(db, 0, nil), b, Options{PollInterval: time.Hour}, nil, logger)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	conv, msg := queue(t, db, &store.OutboxEntry{ClientMsgID: "c1", Body: "hello"})

	s.Start(context.Background())
	defer s.Stop()
	s.Notify()

	select {
	case evt := <-ch:
		change := evt.Payload.(bus.StatusChange)
		if evt.Kind != bus.KindMessageStatus || change.Status != "sent" || change.MessageID != msg.ID {
			t.Errorf("event = %+v", evt)
		}
		if evt.ConversationID != conv.ID {
			t.Errorf("event conversation = %d, want %d", evt.ConversationID, conv.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no status event")
	}

	if mock.count() != 1 {
		t.Fatalf("got %d send calls, want 1", mock.count())
	}
	call := mock.calls[0]
	if call.Msg.To != "5511" || call.Msg.Body != "hello" || call.Msg.Kind != "text" {
		t.Errorf("call = %+v", call.Msg)
	}
	if call.Cred.AccessToken != "tok" || call.Cred.PhoneNumberID != "PNID" {
		t.Errorf("cred = %+v", call.Cred)
	}

	got, err := db.GetMessage(context.Background(), msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.WAMessageID != "wamid.server-5511" {
		t.Errorf("WAMessageID = %q", got.WAMessageID)
	}
	pending, _ := db.PendingOutbox(context.Background(), 10)
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestSenderRecordsFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{err: errors.New("network down")}
	s := NewSender(db, mock, integration.NewRegistry(db, 0, nil), b, Options{PollInterval: 20 * time.Millisecond}, nil, nil)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()
	queue(t, db, &store.OutboxEntry{ClientMsgID: "c1", Body: "hello"})

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		if change := evt.Payload.(bus.StatusChange); change.Status != "failed" {
			t.Errorf("status = %q, want failed", change.Status)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no status event")
	}

	var status, errMsg string
	var attempts int
	if err := db.QueryRow(`SELECT status, error_message, attempts FROM outbox WHERE client_msg_id = 'c1'`).Scan(&status, &errMsg, &attempts); err != nil {
		t.Fatal(err)
	}
	if status != store.OutboxFailed || errMsg != "network down" || attempts != 1 {
		t.Errorf("outbox = %s %q %d", status, errMsg, attempts)
	}

	// Failed entries are not retried.
	time.Sleep(100 * time.Millisecond)
	if mock.count() != 1 {
		t.Errorf("send calls = %d, want 1", mock.count())
	}
}

func TestSenderRequeuesInterruptedSends(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{}
	queue(t, db, &store.OutboxEntry{ClientMsgID: "c1", Body: "hello"})
	if err := db.MarkOutboxSending(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	s := NewSender(db, mock, integration.NewRegistry(db, 0, nil), &bus.Recorder{}, Options{PollInterval: 20 * time.Millisecond}, nil, nil)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return mock.count() == 1 })
}

func TestSenderMediaEntry(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{}
	rec := &bus.Recorder{}
	queue(t, db, &store.OutboxEntry{ClientMsgID: "c1", Kind: "document", Body: "invoice", MediaLink: "https://x/a.pdf", FileName: "a.pdf"})

	s := NewSender(db, mock, integration.NewRegistry(db, 0, nil), rec, Options{PollInterval: 20 * time.Millisecond}, nil, nil)
	s.Start(context.Background())
	waitFor(t, func() bool { return len(rec.Events()) == 1 })
	s.Stop()

	got := mock.calls[0].Msg
	if got.Kind != "document" || got.Link != "https://x/a.pdf" || got.Filename != "a.pdf" || got.Body != "invoice" {
		t.Errorf("outbound = %+v", got)
	}
}

func TestNotifyDoesNotBlock(t *testing.T) {
	s := NewSender(nil, nil, nil, nil, Options{}, nil, nil)
	for i := 0; i < 10; i++ {
		s.Notify()
	}
}
