package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

const attachmentColumns = `id, message_id, kind, url, storage_key, mime_type, size_bytes, file_name,
	COALESCE(duration_seconds, 0), COALESCE(width, 0), COALESCE(height, 0), COALESCE(preview_url, ''), created_at`

func scanAttachment(s scanner) (*Attachment, error) {
	var a Attachment
	if err := s.Scan(&a.ID, &a.MessageID, &a.Kind, &a.URL, &a.StorageKey, &a.MimeType, &a.SizeBytes, &a.FileName,
		&a.DurationSeconds, &a.Width, &a.Height, &a.PreviewURL, &a.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// InsertAttachment links a stored media file to a message.
func (db *DB) InsertAttachment(ctx context.Context, a *Attachment) (*Attachment, error) {
	return scanAttachment(db.QueryRowContext(ctx, `
		INSERT INTO message_attachments (message_id, kind, url, storage_key, mime_type, size_bytes, file_name,
			duration_seconds, width, height, preview_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+attachmentColumns,
		a.MessageID, a.Kind, a.URL, a.StorageKey, a.MimeType, a.SizeBytes, a.FileName,
		nullInt(a.DurationSeconds), nullInt(a.Width), nullInt(a.Height), nullString(a.PreviewURL), time.Now().UnixMilli()))
}

// Attachments returns the attachments of one message.
func (db *DB) Attachments(ctx context.Context, messageID int64) ([]Attachment, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM message_attachments WHERE message_id = ? ORDER BY id`, messageID)
	if err != nil {
		return nil, err
	}
	return collectAttachments(rows)
}

func collectAttachments(rows *sql.Rows) ([]Attachment, error) {
	defer func() { _ = rows.Close() }()

	var out []Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// attachAll loads attachments for a page of messages in one query.
func (db *DB) attachAll(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	args := make([]any, len(msgs))
	index := make(map[int64]int, len(msgs))
	for i, m := range msgs {
		args[i] = m.ID
		index[m.ID] = i
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+attachmentColumns+` FROM message_attachments
		WHERE message_id IN (?`+strings.Repeat(",?", len(msgs)-1)+`)
		ORDER BY id`, args...)
	if err != nil {
		return err
	}
	atts, err := collectAttachments(rows)
	if err != nil {
		return err
	}
	for _, a := range atts {
		i := index[a.MessageID]
		msgs[i].Attachments = append(msgs[i].Attachments, a)
	}
	return nil
}
