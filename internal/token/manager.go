package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/internhub/calsync/internal/calendar"
)

// ErrNeedReauth means the stored credential cannot be used for unattended
// sync and the user must repeat authorization. The stored credential has
// already been deleted so the next attempt starts clean.
var ErrNeedReauth = errors.New("NEED_REAUTH")

// Manager owns credential lifecycle: it alone writes refreshed tokens
// back to the store.
type Manager struct {
	store Store
	oauth *oauth2.Config
	log   *zap.Logger
}

func NewManager(store Store, oauthCfg *oauth2.Config, log *zap.Logger) *Manager {
	return &Manager{store: store, oauth: oauthCfg, log: log}
}

// Session is an authenticated client for one account. Any token refresh
// performed while the session is in use is captured and exposed through
// Refreshed rather than persisted behind the caller's back; call
// Manager.Persist once the work is done.
type Session struct {
	Email  string
	Client *http.Client
	src    *capturingTokenSource
}

// Refreshed returns the refreshed credential fields if a refresh happened
// during the session, or nil.
func (s *Session) Refreshed() *Credential {
	return s.src.refreshed(s.Email)
}

// capturingTokenSource records refreshed tokens instead of persisting
// them as a side effect of API calls.
type capturingTokenSource struct {
	source oauth2.TokenSource

	mu      sync.Mutex
	initial string
	last    *oauth2.Token
}

func (c *capturingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := c.source.Token()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if tok.AccessToken != c.initial {
		c.last = tok
	}
	c.mu.Unlock()
	return tok, nil
}

func (c *capturingTokenSource) refreshed(email string) *Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	return &Credential{
		Email:        email,
		AccessToken:  c.last.AccessToken,
		RefreshToken: c.last.RefreshToken, // empty unless reissued
		TokenType:    c.last.TokenType,
		Expiry:       c.last.Expiry,
	}
}

// Load returns an authenticated session for email, or ErrNeedReauth when
// the stored credential is missing, lacks refresh capability, or was
// minted by a different OAuth client. In every NEED_REAUTH case the
// stored credential is deleted first.
func (m *Manager) Load(ctx context.Context, email string) (*Session, error) {
	cred, err := m.store.Load(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	switch {
	case cred == nil:
		return nil, fmt.Errorf("no stored authorization for %s: %w", email, ErrNeedReauth)
	case cred.RefreshToken == "":
		m.wipe(ctx, email, "missing refresh token")
		return nil, fmt.Errorf("credential for %s has no refresh token: %w", email, ErrNeedReauth)
	case cred.ClientID != "" && cred.ClientID != m.oauth.ClientID:
		m.wipe(ctx, email, "foreign oauth client")
		return nil, fmt.Errorf("credential for %s was minted by another OAuth client: %w", email, ErrNeedReauth)
	}

	tok := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}
	src := &capturingTokenSource{
		source:  oauth2.ReuseTokenSource(tok, m.oauth.TokenSource(ctx, tok)),
		initial: cred.AccessToken,
	}
	return &Session{
		Email:  email,
		Client: oauth2.NewClient(ctx, src),
		src:    src,
	}, nil
}

// Persist writes back any token refreshed during the session. The
// refresh token is only overwritten when the provider reissued one; the
// store preserves the existing value otherwise.
func (m *Manager) Persist(ctx context.Context, s *Session) error {
	cred := s.Refreshed()
	if cred == nil {
		return nil
	}
	cred.ClientID = m.oauth.ClientID
	if err := m.store.Upsert(ctx, cred); err != nil {
		return fmt.Errorf("failed to persist refreshed credential: %w", err)
	}
	m.log.Debug("persisted refreshed credential", zap.String("email", s.Email))
	return nil
}

// Invalidate deletes the stored credential so the next attempt forces a
// clean re-authorization.
func (m *Manager) Invalidate(ctx context.Context, email string) error {
	return m.store.Delete(ctx, email)
}

// ClassifyFailure converts a remote failure into ErrNeedReauth when it is
// authorization-shaped, deleting the stored credential. Other failures
// are returned unchanged.
func (m *Manager) ClassifyFailure(ctx context.Context, email string, err error) error {
	if err == nil {
		return nil
	}
	if calendar.IsAuthFailure(err) {
		m.wipe(ctx, email, "remote rejected credential")
		return fmt.Errorf("%v: %w", err, ErrNeedReauth)
	}
	return err
}

// AuthCodeURL builds the consent URL for linking an account. Offline
// access with forced approval guarantees a refresh token is issued.
func (m *Manager) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens, resolves the account
// email from the ID token, stamps the minting client and upserts the
// credential. Returns the stored credential.
func (m *Manager) Exchange(ctx context.Context, code string) (*Credential, error) {
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	email, err := emailFromIDToken(idToken)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account email: %w", err)
	}

	scope, _ := tok.Extra("scope").(string)
	cred := &Credential{
		Email:        email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        scope,
		IDToken:      idToken,
		Expiry:       tok.Expiry,
		ClientID:     m.oauth.ClientID,
	}
	if err := m.store.Upsert(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	m.log.Info("stored credential", zap.String("email", email))
	return cred, nil
}

// Check reports whether a stored credential is currently usable. A
// credential rejected during refresh is deleted so the next attempt
// starts clean.
func (m *Manager) Check(ctx context.Context, email string) (bool, error) {
	s, err := m.Load(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNeedReauth) {
			return false, nil
		}
		return false, err
	}
	if _, err := s.src.Token(); err != nil {
		if calendar.IsAuthFailure(err) {
			m.wipe(ctx, email, "refresh rejected")
			return false, nil
		}
		return false, fmt.Errorf("failed to verify credential: %w", err)
	}
	if err := m.Persist(ctx, s); err != nil {
		m.log.Warn("failed to persist refreshed credential", zap.Error(err))
	}
	return true, nil
}

func (m *Manager) wipe(ctx context.Context, email, reason string) {
	if err := m.store.Delete(ctx, email); err != nil {
		m.log.Warn("failed to delete credential",
			zap.String("email", email), zap.String("reason", reason), zap.Error(err))
		return
	}
	m.log.Info("deleted unusable credential",
		zap.String("email", email), zap.String("reason", reason))
}

// emailFromIDToken extracts the email claim from an ID token without
// verifying the signature; the token came straight from the token
// endpoint over TLS.
func emailFromIDToken(idToken string) (string, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed id token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("failed to decode id token claims: %w", err)
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("failed to parse id token claims: %w", err)
	}
	if claims.Email == "" {
		return "", fmt.Errorf("id token carries no email claim")
	}
	return claims.Email, nil
}
