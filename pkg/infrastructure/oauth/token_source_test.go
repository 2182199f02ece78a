package oauth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	shared "github.com/tracktiles/server/pkg"
	"github.com/tracktiles/server/pkg/testing/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTokenReturnsLiveTokenWithoutRefresh(t *testing.T) {
	user := &shared.UserRecord{
		ID:          "user-1",
		AccessToken: "live-token",
		TokenExpiry: time.Now().Add(time.Hour),
	}

	s := NewPersistingTokenSource(&mocks.MockDatabase{}, &oauth2.Config{}, user, testLogger())
	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live-token", tok.AccessToken)
}

func TestTokenRefreshesAndPersists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "fresh-token",
			"refresh_token": "rotated-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	user := &shared.UserRecord{
		ID:           "user-1",
		AccessToken:  "stale-token",
		RefreshToken: "old-refresh",
		TokenExpiry:  time.Now().Add(-time.Hour),
	}

	var persisted map[string]interface{}
	db := &mocks.MockDatabase{
		UpdateUserFunc: func(ctx context.Context, id string, data map[string]interface{}) error {
			persisted = data
			return nil
		},
	}

	config := &oauth2.Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: server.URL + "/token"},
	}

	s := NewPersistingTokenSource(db, config, user, testLogger())
	tok, err := s.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "fresh-token", tok.AccessToken)
	require.NotNil(t, persisted)
	assert.Equal(t, "fresh-token", persisted["accessToken"])
	assert.Equal(t, "rotated-refresh", persisted["refreshToken"])
}

func TestTokenNoRefreshToken(t *testing.T) {
	user := &shared.UserRecord{
		ID:          "user-1",
		AccessToken: "stale",
		TokenExpiry: time.Now().Add(-time.Minute),
	}

	s := NewPersistingTokenSource(&mocks.MockDatabase{}, &oauth2.Config{}, user, testLogger())
	_, err := s.Token(context.Background())
	assert.Error(t, err)
}
