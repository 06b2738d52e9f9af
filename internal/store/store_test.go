package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// seedConversation creates an integration, a contact and a conversation.
func seedConversation(t *testing.T, db *DB) (*Integration, *Contact, *Conversation) {
	t.Helper()
	ctx := context.Background()
	in, err := db.UpsertIntegration(ctx, &Integration{Name: "main", PhoneNumberID: "pn-1", AccessToken: "tok", APIVersion: "v21.0"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := db.UpsertContact(ctx, "5511999990000", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	conv, _, err := db.FindOrCreateConversation(ctx, c.ID, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	return in, c, conv
}

func inbound(convID int64, waID, body string, at int64) *Message {
	return &Message{
		ConversationID: convID,
		SenderType:     SenderContact,
		Body:           body,
		MessageType:    "text",
		WAMessageID:    waID,
		CreatedAt:      at,
		DeliveredAt:    at,
	}
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 3 {
		t.Errorf("version = %d, want 3 (init + search + fallback bot)", result.Version)
	}
}

func TestMigrateRefusesDirtySchema(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); !errors.Is(err, ErrDirtySchema) {
		t.Fatalf("Migrate() error = %v, want ErrDirtySchema", err)
	}
}

func TestMigrateSeedsFallbackBot(t *testing.T) {
	db := testDB(t)

	b, err := db.BotByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("BotByID(1) error = %v", err)
	}
	if b.Name != "fallback" {
		t.Errorf("bot name = %q, want fallback", b.Name)
	}
}

func TestSchemaInvariants(t *testing.T) {
	db := testDB(t)
	_, _, conv := seedConversation(t, db)
	a, err := db.CreateAgent(context.Background(), "Bob", "agent")
	if err != nil {
		t.Fatal(err)
	}

	rejected := []struct {
		desc  string
		query string
		args  []any
	}{
		{"agent and bot together", "UPDATE conversations SET assigned_agent_id = ?, assigned_bot_id = 1 WHERE id = ?", []any{a.ID, conv.ID}},
		{"agent message without agent", "INSERT INTO messages (conversation_id, sender_type, created_at, delivered_at) VALUES (?, 'agent', 1, 1)", []any{conv.ID}},
		{"bot message without bot", "INSERT INTO messages (conversation_id, sender_type, created_at, delivered_at) VALUES (?, 'bot', 1, 1)", []any{conv.ID}},
		{"unknown sender type", "INSERT INTO messages (conversation_id, sender_type, created_at, delivered_at) VALUES (?, 'system', 1, 1)", []any{conv.ID}},
		{"negative unread", "UPDATE conversations SET unread_count = -1 WHERE id = ?", []any{conv.ID}},
	}
	for _, op := range rejected {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err == nil {
				t.Fatalf("%s: expected constraint violation", op.desc)
			}
		})
	}
}

func TestUpsertContactIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first, err := db.UpsertContact(ctx, "551100", "")
	if err != nil {
		t.Fatal(err)
	}
	if first.PhoneNumber != "551100" {
		t.Errorf("phone = %q, want external id", first.PhoneNumber)
	}

	second, err := db.UpsertContact(ctx, "551100", "Carol")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatalf("ids differ: %d vs %d", second.ID, first.ID)
	}
	if second.Name != "Carol" {
		t.Errorf("name = %q, want Carol (fills empty name)", second.Name)
	}

	third, err := db.UpsertContact(ctx, "551100", "Someone Else")
	if err != nil {
		t.Fatal(err)
	}
	if third.Name != "Carol" {
		t.Errorf("name = %q, stored name must not be overwritten", third.Name)
	}

	n, err := db.ContactCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("contact count = %d, want 1", n)
	}
}

func TestFindOrCreateConversation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	c, err := db.UpsertContact(ctx, "551100", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.FindOrCreateConversation(ctx, c.ID, 0); !errors.Is(err, ErrNoIntegration) {
		t.Fatalf("err = %v, want ErrNoIntegration", err)
	}

	first, err := db.UpsertIntegration(ctx, &Integration{PhoneNumberID: "pn-a", AccessToken: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertIntegration(ctx, &Integration{PhoneNumberID: "pn-b", AccessToken: "b"}); err != nil {
		t.Fatal(err)
	}

	conv, created, err := db.FindOrCreateConversation(ctx, c.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first call should create")
	}
	if conv.IntegrationID != first.ID {
		t.Errorf("integration = %d, want lowest id %d", conv.IntegrationID, first.ID)
	}
	if !conv.Read || conv.UnreadCount != 0 {
		t.Errorf("new conversation = %+v, want read with zero unread", conv)
	}

	again, created, err := db.FindOrCreateConversation(ctx, c.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if created || again.ID != conv.ID {
		t.Errorf("second call created=%v id=%d, want reuse of %d", created, again.ID, conv.ID)
	}
}

func TestAssignAgent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, _, conv := seedConversation(t, db)
	a, _ := db.CreateAgent(ctx, "A", "agent")
	b, _ := db.CreateAgent(ctx, "B", "agent")

	if _, err := db.IncrementUnread(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	got, err := db.AssignAgent(ctx, conv.ID, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssignedAgentID == nil || *got.AssignedAgentID != a.ID || got.AssignedBotID != nil {
		t.Errorf("assignment = %+v", got)
	}
	if got.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", got.UnreadCount)
	}

	if _, err := db.AssignAgent(ctx, conv.ID, b.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("second assign err = %v, want ErrConflict", err)
	}
	if _, err := db.AssignAgent(ctx, 9999, b.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing conversation err = %v, want ErrNotFound", err)
	}
}

func TestIncrementUnreadConcurrent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, _, conv := seedConversation(t, db)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.IncrementUnread(ctx, conv.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	got, err := db.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UnreadCount != n {
		t.Errorf("unread = %d, want %d", got.UnreadCount, n)
	}
	if got.Read {
		t.Error("read flag should be cleared")
	}
}

func TestInboundMessageBumpsConversation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, _, conv := seedConversation(t, db)

	msg, dup, err := db.InsertInboundMessage(ctx, inbound(conv.ID, "wamid.1", "hello", 1000))
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("first insert reported duplicate")
	}

	got, err := db.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UnreadCount != 1 || got.LastActivityAt != 1000 || got.LastContactMessageAt != 1000 {
		t.Errorf("conversation = %+v", got)
	}

	again, dup, err := db.InsertInboundMessage(ctx, inbound(conv.ID, "wamid.1", "hello", 2000))
	if err != nil {
		t.Fatal(err)
	}
	if !dup || again.ID != msg.ID {
		t.Errorf("redelivery dup=%v id=%d, want existing %d", dup, again.ID, msg.ID)
	}
	got, _ = db.GetConversation(ctx, conv.ID)
	if got.UnreadCount != 1 {
		t.Errorf("unread = %d after redelivery, want 1", got.UnreadCount)
	}
}

func TestOutboundMessageQueuesOutbox(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	in, c, conv := seedConversation(t, db)
	a, _ := db.CreateAgent(ctx, "A", "agent")

	m := &Message{ConversationID: conv.ID, SenderType: SenderAgent, AgentID: &a.ID, Body: "hi", MessageType: "text", CreatedAt: 5000, DeliveredAt: 5000}
	ob := &OutboxEntry{ClientMsgID: "client1", IntegrationID: in.ID, Recipient: c.ExternalID, Body: "hi"}
	msg, err := db.InsertOutboundMessage(ctx, m, ob)
	if err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetConversation(ctx, conv.ID)
	if got.LastActivityAt != 5000 || got.LastContactMessageAt != 0 || got.UnreadCount != 0 {
		t.Errorf("conversation = %+v", got)
	}

	pending, err := db.PendingOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].MessageID != msg.ID || pending[0].Kind != "text" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := db.MarkOutboxSending(ctx, "client1"); err != nil {
		t.Fatal(err)
	}
	if n, err := db.RequeueSending(ctx); err != nil || n != 1 {
		t.Fatalf("RequeueSending() = %d, %v", n, err)
	}
	if err := db.MarkOutboxSent(ctx, "client1", "wamid.out"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingOutbox(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
	byWA, err := db.MessageByWAID(ctx, "wamid.out")
	if err != nil {
		t.Fatal(err)
	}
	if byWA.ID != msg.ID {
		t.Errorf("wa id linked to %d, want %d", byWA.ID, msg.ID)
	}
}

func TestOutboundRejectsAgentWithoutID(t *testing.T) {
	db := testDB(t)
	_, _, conv := seedConversation(t, db)

	m := &Message{ConversationID: conv.ID, SenderType: SenderAgent, Body: "hi", CreatedAt: 1, DeliveredAt: 1}
	if _, err := db.InsertOutboundMessage(context.Background(), m, nil); err == nil {
		t.Fatal("expected constraint error")
	}
	n, _ := db.MessageCount(context.Background())
	if n != 0 {
		t.Errorf("message count = %d, want 0", n)
	}
}

func TestMessagesPage(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, _, conv := seedConversation(t, db)

	// Two messages share a timestamp; id breaks the tie.
	for i, at := range []int64{100, 200, 200, 300, 400} {
		if _, _, err := db.InsertInboundMessage(ctx, inbound(conv.ID, "", string(rune('a'+i)), at)); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.MessagesPage(ctx, conv.ID, nil, true, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 || page[0].Body != "a" || page[2].Body != "c" {
		t.Fatalf("first page = %+v", page)
	}

	boundary := page[1] // second row at delivered_at 200
	next, err := db.MessagesPage(ctx, conv.ID, &PageCursor{ID: boundary.ID, DeliveredAt: boundary.DeliveredAt}, true, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 3 || next[0].Body != "c" {
		t.Errorf("after %q got %d rows starting %q, want c,d,e", boundary.Body, len(next), next[0].Body)
	}

	desc, err := db.MessagesPage(ctx, conv.ID, &PageCursor{ID: next[0].ID, DeliveredAt: next[0].DeliveredAt}, false, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(desc) != 2 || desc[0].Body != "b" || desc[1].Body != "a" {
		t.Errorf("descending page = %+v", desc)
	}

	last, err := db.LastMessage(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if last.Body != "e" {
		t.Errorf("last = %q, want e", last.Body)
	}
}

func TestAppendBodyNoteIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, _, conv := seedConversation(t, db)
	const note = "[attachment could not be retrieved]"

	withBody, _, _ := db.InsertInboundMessage(ctx, inbound(conv.ID, "w1", "look", 1))
	noBody, _, _ := db.InsertInboundMessage(ctx, inbound(conv.ID, "w2", "", 2))

	for i := 0; i < 2; i++ {
		if err := db.AppendBodyNote(ctx, withBody.ID, note); err != nil {
			t.Fatal(err)
		}
		if err := db.AppendBodyNote(ctx, noBody.ID, note); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := db.GetMessage(ctx, withBody.ID)
	if got.Body != "look\n"+note {
		t.Errorf("body = %q", got.Body)
	}
	got, _ = db.GetMessage(ctx, noBody.ID)
	if got.Body != note {
		t.Errorf("body = %q", got.Body)
	}
	if err := db.AppendBodyNote(ctx, 9999, note); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing message err = %v, want ErrNotFound", err)
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, _, conv := seedConversation(t, db)
	if _, _, err := db.InsertInboundMessage(ctx, inbound(conv.ID, "wamid.s", "x", 100)); err != nil {
		t.Fatal(err)
	}

	got, err := db.UpdateMessageStatus(ctx, "wamid.s", 0, 900)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReadAt != 900 || got.DeliveredAt != 100 {
		t.Errorf("after read: %+v", got)
	}

	if _, err := db.UpdateMessageStatus(ctx, "wamid.unknown", 0, 900); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v, want ErrNotFound", err)
	}
}

func TestAttachments(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, _, conv := seedConversation(t, db)
	msg, _, _ := db.InsertInboundMessage(ctx, inbound(conv.ID, "w", "", 1))

	if _, err := db.InsertAttachment(ctx, &Attachment{MessageID: msg.ID, Kind: KindImage, URL: "/media/image/a.jpg", MimeType: "image/jpeg", SizeBytes: 10, PreviewURL: "/media/image/a.jpg"}); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Kind != KindImage {
		t.Errorf("attachments = %+v", got.Attachments)
	}

	page, _ := db.MessagesPage(ctx, conv.ID, nil, true, 10)
	if len(page) != 1 || len(page[0].Attachments) != 1 {
		t.Errorf("page attachments = %+v", page)
	}
}

func TestMarkConversationRead(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, _, conv := seedConversation(t, db)
	msg, _, _ := db.InsertInboundMessage(ctx, inbound(conv.ID, "w", "hi", 1))

	got, err := db.MarkConversationRead(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Read || got.UnreadCount != 0 {
		t.Errorf("conversation = %+v", got)
	}
	m, _ := db.GetMessage(ctx, msg.ID)
	if m.ReadAt == 0 {
		t.Error("read_at not stamped on contact message")
	}
}

func TestReassignStaleToBot(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, _, conv := seedConversation(t, db)
	a, _ := db.CreateAgent(ctx, "A", "agent")
	if _, err := db.AssignAgent(ctx, conv.ID, a.ID); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	cutoff := now.Add(-35 * time.Minute).UnixMilli()
	stale, err := db.StaleAgentConversations(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh conversation selected as stale")
	}

	if err := db.SetConversationUpdatedAt(ctx, conv.ID, now.Add(-40*time.Minute).UnixMilli()); err != nil {
		t.Fatal(err)
	}
	stale, _ = db.StaleAgentConversations(ctx, cutoff)
	if len(stale) != 1 {
		t.Fatalf("stale = %d, want 1", len(stale))
	}

	got, err := db.ReassignToBot(ctx, conv.ID, 1, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssignedAgentID != nil || got.AssignedBotID == nil || *got.AssignedBotID != 1 {
		t.Errorf("after reassign = %+v", got)
	}
	if _, err := db.ReassignToBot(ctx, conv.ID, 1, cutoff); !errors.Is(err, ErrConflict) {
		t.Errorf("second reassign err = %v, want ErrConflict", err)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, _, conv := seedConversation(t, db)

	if _, _, err := db.InsertInboundMessage(ctx, inbound(conv.ID, "m1", "hello world", 1000)); err != nil {
		t.Fatal(err)
	}
	m2, _, err := db.InsertInboundMessage(ctx, inbound(conv.ID, "m2", "goodbye world", 2000))
	if err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages(ctx, "hello", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Message.WAMessageID != "m1" {
		t.Errorf("wa id = %q, want m1", results[0].Message.WAMessageID)
	}

	// Body updates are reindexed.
	if err := db.AppendBodyNote(ctx, m2.ID, "hello again"); err != nil {
		t.Fatal(err)
	}
	results, _ = db.SearchMessages(ctx, "hello", conv.ID, 10)
	if len(results) != 2 {
		t.Errorf("got %d results after update, want 2", len(results))
	}
}

func TestIntegrations(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	in, err := db.UpsertIntegration(ctx, &Integration{PhoneNumberID: "pn", AccessToken: "old"})
	if err != nil {
		t.Fatal(err)
	}
	updated, err := db.UpsertIntegration(ctx, &Integration{PhoneNumberID: "pn", AccessToken: "new"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID != in.ID || updated.AccessToken != "new" {
		t.Errorf("upsert = %+v", updated)
	}

	if _, err := db.IntegrationByPhoneNumberID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := db.DeleteIntegration(ctx, in.ID); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteIntegration(ctx, in.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestDeleteIntegrationInUse(t *testing.T) {
	db := testDB(t)
	in, _, _ := seedConversation(t, db)

	if err := db.DeleteIntegration(context.Background(), in.ID); !errors.Is(err, ErrInUse) {
		t.Errorf("err = %v, want ErrInUse", err)
	}
}
