// Package oauth bridges stored user credentials and the oauth2 refresh
// flow, persisting refreshed tokens back to the user record.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	shared "github.com/tracktiles/server/pkg"
)

// expirySkew refreshes tokens slightly early so a token does not expire
// mid-download on a long sync.
const expirySkew = 2 * time.Minute

// PersistingTokenSource wraps the standard oauth2 refresh flow around a
// stored user record. Refreshed tokens are written back so the next
// function invocation starts with a live token. Safe for concurrent use.
type PersistingTokenSource struct {
	db     shared.Database
	config *oauth2.Config
	userID string
	logger *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

func NewPersistingTokenSource(db shared.Database, config *oauth2.Config, user *shared.UserRecord, logger *slog.Logger) *PersistingTokenSource {
	return &PersistingTokenSource{
		db:     db,
		config: config,
		userID: user.ID,
		logger: logger,
		token: &oauth2.Token{
			AccessToken:  user.AccessToken,
			RefreshToken: user.RefreshToken,
			Expiry:       user.TokenExpiry,
		},
	}
}

// Token returns the current access token, refreshing and persisting it
// first when it is expired or about to expire.
func (s *PersistingTokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token.AccessToken != "" && time.Until(s.token.Expiry) > expirySkew {
		return s.token, nil
	}

	if s.token.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token for user %s", s.userID)
	}

	refreshed, err := s.config.TokenSource(ctx, s.token).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	if refreshed.RefreshToken == "" {
		// Providers that rotate refresh tokens omit the old one
		refreshed.RefreshToken = s.token.RefreshToken
	}
	s.token = refreshed

	if err := s.db.UpdateUser(ctx, s.userID, map[string]interface{}{
		"accessToken":  refreshed.AccessToken,
		"refreshToken": refreshed.RefreshToken,
		"tokenExpiry":  refreshed.Expiry,
		"updatedAt":    time.Now().UTC(),
	}); err != nil {
		// The token itself is still valid for this run
		s.logger.Warn("Failed to persist refreshed token", "error", err)
	} else {
		s.logger.Info("Refreshed access token", "user_id", s.userID)
	}

	return s.token, nil
}
