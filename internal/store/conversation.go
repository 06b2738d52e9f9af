package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const conversationColumns = `id, contact_id, integration_id, assigned_agent_id, assigned_bot_id,
	unread_count, is_read, last_activity_at, last_contact_message_at, created_at, updated_at`

func scanConversation(s scanner) (*Conversation, error) {
	var c Conversation
	var agentID, botID sql.NullInt64
	if err := s.Scan(&c.ID, &c.ContactID, &c.IntegrationID, &agentID, &botID,
		&c.UnreadCount, &c.Read, &c.LastActivityAt, &c.LastContactMessageAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	c.AssignedAgentID = ptrFromNull(agentID)
	c.AssignedBotID = ptrFromNull(botID)
	return &c, nil
}

// FindOrCreateConversation returns the most recently created conversation for
// the contact, or creates one bound to integrationID. When integrationID is
// zero the lowest-id integration is used. The bool reports creation.
func (db *DB) FindOrCreateConversation(ctx context.Context, contactID, integrationID int64) (*Conversation, bool, error) {
	var conv *Conversation
	created := false
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		conv, err = latestConversation(ctx, tx, contactID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		if integrationID == 0 {
			err := tx.QueryRowContext(ctx, `SELECT id FROM integrations ORDER BY id ASC LIMIT 1`).Scan(&integrationID)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoIntegration
			}
			if err != nil {
				return err
			}
		}

		now := time.Now().UnixMilli()
		conv, err = scanConversation(tx.QueryRowContext(ctx, `
			INSERT INTO conversations (contact_id, integration_id, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			RETURNING `+conversationColumns,
			contactID, integrationID, now, now))
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

func latestConversation(ctx context.Context, q queryer, contactID int64) (*Conversation, error) {
	return scanConversation(q.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE contact_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, contactID))
}

// GetConversation returns a conversation by id.
func (db *DB) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	return scanConversation(db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
}

// ListConversations returns conversations by most recent activity.
func (db *DB) ListConversations(ctx context.Context, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		ORDER BY last_activity_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectConversations(rows)
}

func collectConversations(rows *sql.Rows) ([]Conversation, error) {
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// conditionalUpdate runs an UPDATE ... RETURNING on one conversation. When no
// row matches it distinguishes a missing conversation from a failed condition.
func (db *DB) conditionalUpdate(ctx context.Context, id int64, query string, args ...any) (*Conversation, error) {
	conv, err := scanConversation(db.QueryRowContext(ctx, query+` RETURNING `+conversationColumns, args...))
	if !errors.Is(err, ErrNotFound) {
		return conv, err
	}
	var exists int
	if err := db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists); err != nil {
		return nil, notFound(err)
	}
	return nil, ErrConflict
}

// AssignAgent assigns an agent to an unheld conversation, clearing any bot
// and the unread counter. Returns ErrConflict when an agent already holds it.
func (db *DB) AssignAgent(ctx context.Context, id, agentID int64) (*Conversation, error) {
	return db.conditionalUpdate(ctx, id, `
		UPDATE conversations SET
			assigned_agent_id = ?, assigned_bot_id = NULL, unread_count = 0, updated_at = ?
		WHERE id = ? AND assigned_agent_id IS NULL`,
		agentID, time.Now().UnixMilli(), id)
}

// Unassign clears both assignment fields.
func (db *DB) Unassign(ctx context.Context, id int64) (*Conversation, error) {
	return scanConversation(db.QueryRowContext(ctx, `
		UPDATE conversations SET assigned_agent_id = NULL, assigned_bot_id = NULL, updated_at = ?
		WHERE id = ?
		RETURNING `+conversationColumns,
		time.Now().UnixMilli(), id))
}

// MarkConversationRead sets the read flag, zeroes the counter and stamps
// read_at on unread contact messages.
func (db *DB) MarkConversationRead(ctx context.Context, id int64) (*Conversation, error) {
	var conv *Conversation
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		var err error
		conv, err = scanConversation(tx.QueryRowContext(ctx, `
			UPDATE conversations SET is_read = 1, unread_count = 0, updated_at = ?
			WHERE id = ?
			RETURNING `+conversationColumns, now, id))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE messages SET read_at = ?
			WHERE conversation_id = ? AND sender_type = 'contact' AND read_at IS NULL`, now, id)
		return err
	})
	return conv, err
}

// IncrementUnread clears the read flag and adds one to the counter in a
// single statement.
func (db *DB) IncrementUnread(ctx context.Context, id int64) (*Conversation, error) {
	return scanConversation(db.QueryRowContext(ctx, `
		UPDATE conversations SET is_read = 0, unread_count = unread_count + 1, updated_at = ?
		WHERE id = ?
		RETURNING `+conversationColumns,
		time.Now().UnixMilli(), id))
}

// ClearReadFlag sets is_read = 0 without touching the counter.
func (db *DB) ClearReadFlag(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `UPDATE conversations SET is_read = 0, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// StaleAgentConversations returns agent-held conversations with no bot whose
// updated_at is older than before.
func (db *DB) StaleAgentConversations(ctx context.Context, before int64) ([]Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE assigned_agent_id IS NOT NULL AND assigned_bot_id IS NULL AND updated_at < ?
		ORDER BY updated_at ASC`, before)
	if err != nil {
		return nil, err
	}
	return collectConversations(rows)
}

// ReassignToBot moves a stale agent-held conversation to botID, clearing the
// agent and the counter. The stale condition is re-checked so a conversation
// touched after selection is left alone (ErrConflict).
func (db *DB) ReassignToBot(ctx context.Context, id, botID, before int64) (*Conversation, error) {
	return db.conditionalUpdate(ctx, id, `
		UPDATE conversations SET
			assigned_agent_id = NULL, assigned_bot_id = ?, unread_count = 0, updated_at = ?
		WHERE id = ? AND assigned_agent_id IS NOT NULL AND assigned_bot_id IS NULL AND updated_at < ?`,
		botID, time.Now().UnixMilli(), id, before)
}

// SetConversationUpdatedAt overrides updated_at, for tests that need to age
// a conversation.
func (db *DB) SetConversationUpdatedAt(ctx context.Context, id, updatedAt int64) error {
	_, err := db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, updatedAt, id)
	return err
}
