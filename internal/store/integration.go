package store

import (
	"context"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
)

const integrationColumns = `id, name, phone_number_id, access_token, api_version, created_at, updated_at`

func scanIntegration(s scanner) (*Integration, error) {
	var i Integration
	if err := s.Scan(&i.ID, &i.Name, &i.PhoneNumberID, &i.AccessToken, &i.APIVersion, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &i, nil
}

// UpsertIntegration inserts or updates an integration keyed by phone number id.
func (db *DB) UpsertIntegration(ctx context.Context, in *Integration) (*Integration, error) {
	now := time.Now().UnixMilli()
	row := db.QueryRowContext(ctx, `
		INSERT INTO integrations (name, phone_number_id, access_token, api_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone_number_id) DO UPDATE SET
			name = excluded.name,
			access_token = excluded.access_token,
			api_version = excluded.api_version,
			updated_at = excluded.updated_at
		RETURNING `+integrationColumns,
		in.Name, in.PhoneNumberID, in.AccessToken, in.APIVersion, now, now)
	return scanIntegration(row)
}

// IntegrationByPhoneNumberID returns the integration for an inbound identifier.
func (db *DB) IntegrationByPhoneNumberID(ctx context.Context, phoneNumberID string) (*Integration, error) {
	row := db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE phone_number_id = ?`, phoneNumberID)
	return scanIntegration(row)
}

// IntegrationByID returns an integration by internal id.
func (db *DB) IntegrationByID(ctx context.Context, id int64) (*Integration, error) {
	row := db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id)
	return scanIntegration(row)
}

// ListIntegrations returns every integration ordered by id.
func (db *DB) ListIntegrations(ctx context.Context) ([]Integration, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+integrationColumns+` FROM integrations ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Integration
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

// DeleteIntegration removes an integration. Returns ErrNotFound when absent
// and ErrInUse while conversations still belong to it.
func (db *DB) DeleteIntegration(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM integrations WHERE id = ?`, id)
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return ErrInUse
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
