package store

import (
	"context"
	"database/sql"
)

// SearchMessages performs a full-text search on message bodies, newest first.
// A non-zero conversationID restricts results to that conversation.
func (db *DB) SearchMessages(ctx context.Context, query string, conversationID int64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.conversation_id, m.sender_type, m.agent_id, m.bot_id, COALESCE(m.body, ''), m.message_type,
		       COALESCE(m.wa_message_id, ''), m.created_at, m.delivered_at, COALESCE(m.read_at, 0),
		       snippet(messages_fts, '<<', '>>', '...', -1, 16)
		FROM messages_fts f
		JOIN messages m ON m.id = f.docid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != 0 {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY m.delivered_at DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var agentID, botID sql.NullInt64
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ConversationID, &r.Message.SenderType, &agentID, &botID,
			&r.Message.Body, &r.Message.MessageType, &r.Message.WAMessageID,
			&r.Message.CreatedAt, &r.Message.DeliveredAt, &r.Message.ReadAt, &r.Snippet,
		); err != nil {
			return nil, err
		}
		r.Message.AgentID = ptrFromNull(agentID)
		r.Message.BotID = ptrFromNull(botID)
		results = append(results, r)
	}
	return results, rows.Err()
}
