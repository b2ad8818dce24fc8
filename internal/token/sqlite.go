package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	email         TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	scope         TEXT NOT NULL DEFAULT '',
	id_token      TEXT NOT NULL DEFAULT '',
	expiry        INTEGER NOT NULL DEFAULT 0,
	client_id     TEXT NOT NULL DEFAULT '',
	updated_at    INTEGER NOT NULL DEFAULT 0
);`

// SQLiteStore is a Store backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the credential database at
// path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create credentials table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, email string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT email, access_token, refresh_token, token_type, scope, id_token, expiry, client_id, updated_at
		FROM credentials WHERE email = ?`, email)

	var (
		cred             Credential
		expiry, updated  int64
	)
	err := row.Scan(&cred.Email, &cred.AccessToken, &cred.RefreshToken, &cred.TokenType,
		&cred.Scope, &cred.IDToken, &expiry, &cred.ClientID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if expiry != 0 {
		cred.Expiry = time.UnixMilli(expiry)
	}
	if updated != 0 {
		cred.UpdatedAt = time.UnixMilli(updated)
	}
	return &cred, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, cred *Credential) error {
	var expiry int64
	if !cred.Expiry.IsZero() {
		expiry = cred.Expiry.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (email, access_token, refresh_token, token_type, scope, id_token, expiry, client_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN credentials.refresh_token ELSE excluded.refresh_token END,
			token_type    = CASE WHEN excluded.token_type = '' THEN credentials.token_type ELSE excluded.token_type END,
			scope         = CASE WHEN excluded.scope = '' THEN credentials.scope ELSE excluded.scope END,
			id_token      = CASE WHEN excluded.id_token = '' THEN credentials.id_token ELSE excluded.id_token END,
			expiry        = excluded.expiry,
			client_id     = excluded.client_id,
			updated_at    = excluded.updated_at`,
		cred.Email, cred.AccessToken, cred.RefreshToken, cred.TokenType,
		cred.Scope, cred.IDToken, expiry, cred.ClientID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, email string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE email = ?`, email); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
