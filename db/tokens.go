package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/guildbot/crypto"
)

// Token is one oauth_tokens row with secrets in the clear.
type Token struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// TokenStore persists OAuth tokens. When Keys is set, secrets are sealed before
// they are written (encryption_version=1) and plaintext rows written earlier
// stay readable (encryption_version=0).
type TokenStore struct {
	DB   *sql.DB
	Keys *crypto.Keyring
}

// NewTokenStore returns a TokenStore sealing with keys, or storing plaintext when keys is nil.
func NewTokenStore(db *sql.DB, keys *crypto.Keyring) *TokenStore {
	if keys == nil {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext (not recommended for production)",
			slog.String("component", "db_encryption"))
	}
	return &TokenStore{DB: db, Keys: keys}
}

// UpsertOAuthToken stores or replaces the token for provider.
func (s *TokenStore) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	version, keyID := 0, ""
	if s.Keys != nil {
		var err error
		if access, keyID, err = s.Keys.Seal(access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, _, err = s.Keys.Seal(refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		version = 1
	}
	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=NOW()`
	if _, err := s.DB.ExecContext(ctx, q, provider, access, refresh, expiry, scope, version, keyID); err != nil {
		return fmt.Errorf("upsert oauth token %s: %w", provider, err)
	}
	return nil
}

// GetOAuthToken returns the stored token for provider; a zero Token when none is stored.
func (s *TokenStore) GetOAuthToken(ctx context.Context, provider string) (Token, error) {
	tok := Token{Provider: provider}
	var (
		access, refresh sql.NullString
		scope, keyID    sql.NullString
		expiry          sql.NullTime
		encVersion      int
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(encryption_version, 0), encryption_key_id
		 FROM oauth_tokens WHERE provider = $1`, provider).
		Scan(&access, &refresh, &expiry, &scope, &encVersion, &keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{Provider: provider}, nil
	}
	if err != nil {
		return Token{}, fmt.Errorf("get oauth token %s: %w", provider, err)
	}
	tok.AccessToken, tok.RefreshToken = access.String, refresh.String
	tok.Expiry, tok.Scope = expiry.Time, scope.String

	if encVersion == 1 {
		if s.Keys == nil {
			return Token{}, fmt.Errorf("token %s is encrypted but ENCRYPTION_KEY not configured", provider)
		}
		if tok.AccessToken, err = s.Keys.Open(tok.AccessToken, keyID.String); err != nil {
			return Token{}, fmt.Errorf("decrypt access token: %w", err)
		}
		if tok.RefreshToken, err = s.Keys.Open(tok.RefreshToken, keyID.String); err != nil {
			return Token{}, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return tok, nil
}

// ResealTokens rewrites every row not sealed under the current key: plaintext
// rows and rows sealed with a retired key. With dryRun set it only counts them.
func (s *TokenStore) ResealTokens(ctx context.Context, dryRun bool) (int, error) {
	if s.Keys == nil {
		return 0, errors.New("reseal tokens: ENCRYPTION_KEY not configured")
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT provider FROM oauth_tokens
		 WHERE COALESCE(encryption_version,0) = 0 OR COALESCE(encryption_key_id,'') <> $1`, s.Keys.CurrentKeyID())
	if err != nil {
		return 0, fmt.Errorf("list tokens: %w", err)
	}
	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		providers = append(providers, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if dryRun {
		return len(providers), nil
	}
	for i, p := range providers {
		tok, err := s.GetOAuthToken(ctx, p)
		if err != nil {
			return i, err
		}
		if err := s.UpsertOAuthToken(ctx, p, tok.AccessToken, tok.RefreshToken, tok.Expiry, tok.Scope); err != nil {
			return i, err
		}
		slog.Info("token resealed", slog.String("provider", p), slog.String("component", "db_encryption"))
	}
	return len(providers), nil
}
