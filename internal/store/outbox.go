package store

import (
	"context"
	"database/sql"
	"time"
)

const outboxColumns = `id, client_msg_id, message_id, integration_id, recipient, kind, body, media_id, media_link,
	file_name, status, attempts, error_message, server_msg_id,
	(SELECT conversation_id FROM messages WHERE messages.id = outbox.message_id)`

func queueOutbox(ctx context.Context, tx *sql.Tx, e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	if e.Kind == "" {
		e.Kind = "text"
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO outbox (client_msg_id, message_id, integration_id, recipient, kind, body, media_id, media_link,
			file_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'queued', ?, ?)
		RETURNING id`,
		e.ClientMsgID, e.MessageID, e.IntegrationID, e.Recipient, e.Kind, e.Body, e.MediaID, e.MediaLink,
		e.FileName, now, now).Scan(&e.ID)
	if err != nil {
		return err
	}
	e.Status = OutboxQueued
	return nil
}

// MarkOutboxSending updates an outbox entry to 'sending' and counts the attempt.
func (db *DB) MarkOutboxSending(ctx context.Context, clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxSent records the server message id on both the outbox entry and
// its message.
func (db *DB) MarkOutboxSent(ctx context.Context, clientMsgID, serverMsgID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		var messageID int64
		err := tx.QueryRowContext(ctx, `
			UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ?
			WHERE client_msg_id = ?
			RETURNING message_id`, serverMsgID, now, clientMsgID).Scan(&messageID)
		if err != nil {
			return notFound(err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE messages SET wa_message_id = ? WHERE id = ?`, nullString(serverMsgID), messageID)
		return err
	})
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(ctx context.Context, clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// PendingOutbox returns up to limit queued entries, oldest first.
func (db *DB) PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.MessageID, &e.IntegrationID, &e.Recipient, &e.Kind, &e.Body,
			&e.MediaID, &e.MediaLink, &e.FileName, &e.Status, &e.Attempts, &e.ErrorMessage, &e.ServerMsgID, &e.ConversationID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RequeueSending returns entries left in 'sending' by a previous run to the
// queue. Returns the number of entries requeued.
func (db *DB) RequeueSending(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE outbox SET status = 'queued', updated_at = ? WHERE status = 'sending'`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
