package store

import (
	"context"
	"time"
)

const contactColumns = `id, external_id, name, phone_number, notes, remarketing, tag, created_at, updated_at`

func scanContact(s scanner) (*Contact, error) {
	var c Contact
	if err := s.Scan(&c.ID, &c.ExternalID, &c.Name, &c.PhoneNumber, &c.Notes, &c.Remarketing, &c.Tag, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// UpsertContact returns the contact for externalID, creating it when absent.
// A new contact uses externalID as its phone number. A supplied name only
// replaces an empty stored name.
func (db *DB) UpsertContact(ctx context.Context, externalID, name string) (*Contact, error) {
	now := time.Now().UnixMilli()
	row := db.QueryRowContext(ctx, `
		INSERT INTO contacts (external_id, name, phone_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = CASE WHEN contacts.name = '' AND excluded.name != '' THEN excluded.name ELSE contacts.name END,
			updated_at = CASE WHEN contacts.name = '' AND excluded.name != '' THEN excluded.updated_at ELSE contacts.updated_at END
		RETURNING `+contactColumns,
		externalID, name, externalID, now, now)
	return scanContact(row)
}

// ContactByID returns a contact by internal id.
func (db *DB) ContactByID(ctx context.Context, id int64) (*Contact, error) {
	row := db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	return scanContact(row)
}

// ContactByExternalID returns a contact by channel identity.
func (db *DB) ContactByExternalID(ctx context.Context, externalID string) (*Contact, error) {
	row := db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE external_id = ?`, externalID)
	return scanContact(row)
}

// ContactCount returns the total number of contacts.
func (db *DB) ContactCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}

// AgentByID returns an agent by id.
func (db *DB) AgentByID(ctx context.Context, id int64) (*Agent, error) {
	var a Agent
	err := db.QueryRowContext(ctx, `SELECT id, name, role FROM agents WHERE id = ?`, id).Scan(&a.ID, &a.Name, &a.Role)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// CreateAgent inserts an agent.
func (db *DB) CreateAgent(ctx context.Context, name, role string) (*Agent, error) {
	a := Agent{Name: name, Role: role}
	err := db.QueryRowContext(ctx, `INSERT INTO agents (name, role, created_at) VALUES (?, ?, ?) RETURNING id`,
		name, role, time.Now().UnixMilli()).Scan(&a.ID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// BotByID returns a bot by id.
func (db *DB) BotByID(ctx context.Context, id int64) (*Bot, error) {
	var b Bot
	err := db.QueryRowContext(ctx, `SELECT id, name FROM bots WHERE id = ?`, id).Scan(&b.ID, &b.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}
