// Package token manages per-user Google credentials: persistence,
// transparent refresh with explicit write-back, and the classification of
// credentials that can no longer be used for unattended sync.
package token

import (
	"context"
	"time"
)

// Credential is one stored Google authorization, keyed by the account
// email it belongs to. ClientID records which OAuth client minted the
// tokens; a credential minted by a foreign client is untrusted.
type Credential struct {
	Email        string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	IDToken      string
	Expiry       time.Time
	ClientID     string
	UpdatedAt    time.Time
}

// Store persists credentials. The concrete backend is an external
// collaborator; the engine only needs load/upsert/delete by email.
type Store interface {
	// Load returns the credential for email, or nil with no error when
	// none is stored.
	Load(ctx context.Context, email string) (*Credential, error)
	// Upsert inserts or updates the credential. An empty RefreshToken
	// must not erase a stored refresh token; a non-empty one overwrites.
	Upsert(ctx context.Context, cred *Credential) error
	// Delete removes the credential for email. Deleting an absent
	// credential is not an error.
	Delete(ctx context.Context, email string) error
}
