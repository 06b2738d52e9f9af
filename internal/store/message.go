package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const messageColumns = `id, conversation_id, sender_type, agent_id, bot_id, COALESCE(body, ''), message_type,
	COALESCE(wa_message_id, ''), created_at, delivered_at, COALESCE(read_at, 0)`

func scanMessage(s scanner) (*Message, error) {
	var m Message
	var agentID, botID sql.NullInt64
	if err := s.Scan(&m.ID, &m.ConversationID, &m.SenderType, &agentID, &botID, &m.Body, &m.MessageType,
		&m.WAMessageID, &m.CreatedAt, &m.DeliveredAt, &m.ReadAt); err != nil {
		return nil, notFound(err)
	}
	m.AgentID = ptrFromNull(agentID)
	m.BotID = ptrFromNull(botID)
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func insertMessage(ctx context.Context, tx *sql.Tx, m *Message) (*Message, error) {
	return scanMessage(tx.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_type, agent_id, bot_id, body, message_type, wa_message_id, created_at, delivered_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+messageColumns,
		m.ConversationID, m.SenderType, nullIntPtr(m.AgentID), nullIntPtr(m.BotID), nullString(m.Body), m.MessageType,
		nullString(m.WAMessageID), m.CreatedAt, m.DeliveredAt, nullInt(m.ReadAt)))
}

// InsertInboundMessage persists a contact message and, in the same
// transaction, increments the conversation's unread counter and sets both
// activity timestamps to the message's delivered_at. A message whose
// wa_message_id is already stored is returned as-is with duplicate set.
func (db *DB) InsertInboundMessage(ctx context.Context, m *Message) (msg *Message, duplicate bool, err error) {
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if m.WAMessageID != "" {
			existing, err := scanMessage(tx.QueryRowContext(ctx,
				`SELECT `+messageColumns+` FROM messages WHERE wa_message_id = ?`, m.WAMessageID))
			if err == nil {
				msg, duplicate = existing, true
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		var err error
		msg, err = insertMessage(ctx, tx, m)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE conversations SET
				unread_count = unread_count + 1,
				last_activity_at = ?, last_contact_message_at = ?, updated_at = ?
			WHERE id = ?`,
			msg.DeliveredAt, msg.DeliveredAt, time.Now().UnixMilli(), msg.ConversationID)
		if err != nil {
			return fmt.Errorf("bump conversation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return msg, duplicate, nil
}

// InsertOutboundMessage persists an agent or bot message, bumps the
// conversation's last_activity_at and, when ob is non-nil, queues it for
// delivery in the same transaction.
func (db *DB) InsertOutboundMessage(ctx context.Context, m *Message, ob *OutboxEntry) (*Message, error) {
	var msg *Message
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		msg, err = insertMessage(ctx, tx, m)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE conversations SET last_activity_at = ?, updated_at = ? WHERE id = ?`,
			msg.CreatedAt, time.Now().UnixMilli(), msg.ConversationID)
		if err != nil {
			return fmt.Errorf("bump conversation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if ob != nil {
			ob.MessageID = msg.ID
			if err := queueOutbox(ctx, tx, ob); err != nil {
				return fmt.Errorf("queue outbox: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage returns a message with its attachments.
func (db *DB) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if m.Attachments, err = db.Attachments(ctx, m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

// MessageByWAID returns the message correlated with a channel message id.
func (db *DB) MessageByWAID(ctx context.Context, waMessageID string) (*Message, error) {
	return scanMessage(db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE wa_message_id = ?`, waMessageID))
}

// UpdateMessageStatus sets delivered_at and/or read_at on the message with
// the given channel id. Zero values leave a column untouched.
func (db *DB) UpdateMessageStatus(ctx context.Context, waMessageID string, deliveredAt, readAt int64) (*Message, error) {
	return scanMessage(db.QueryRowContext(ctx, `
		UPDATE messages SET
			delivered_at = COALESCE(?, delivered_at),
			read_at = COALESCE(?, read_at)
		WHERE wa_message_id = ?
		RETURNING `+messageColumns,
		nullInt(deliveredAt), nullInt(readAt), waMessageID))
}

// AppendBodyNote appends note to the message body on its own line unless the
// body already ends with it.
func (db *DB) AppendBodyNote(ctx context.Context, id int64, note string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE messages SET body = CASE
			WHEN body IS NULL OR body = '' THEN ?
			WHEN substr(body, -length(?)) = ? THEN body
			ELSE body || ?
		END
		WHERE id = ?`,
		note, note, note, "\n"+note, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMessageWAID records the channel id returned by a successful send.
func (db *DB) SetMessageWAID(ctx context.Context, id int64, waMessageID string) error {
	_, err := db.ExecContext(ctx, `UPDATE messages SET wa_message_id = ? WHERE id = ?`, waMessageID, id)
	return err
}

// MessagesPage returns up to fetch messages of a conversation ordered by
// (delivered_at, id), strictly after the cursor when ascending and strictly
// before it when descending. A nil cursor starts from the beginning or end.
func (db *DB) MessagesPage(ctx context.Context, conversationID int64, cursor *PageCursor, ascending bool, fetch int) ([]Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	order := "ASC"
	op := ">"
	if !ascending {
		order, op = "DESC", "<"
	}
	if cursor != nil {
		q += ` AND (delivered_at, id) ` + op + ` (?, ?)`
		args = append(args, cursor.DeliveredAt, cursor.ID)
	}
	q += ` ORDER BY delivered_at ` + order + `, id ` + order + ` LIMIT ?`
	args = append(args, fetch)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if err := db.attachAll(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// LastMessage returns the latest message of a conversation by (delivered_at, id).
func (db *DB) LastMessage(ctx context.Context, conversationID int64) (*Message, error) {
	return scanMessage(db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY delivered_at DESC, id DESC
		LIMIT 1`, conversationID))
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
