package shared

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by persistence adapters when the requested
// object or document does not exist. Callers that treat absence as a
// normal state (fresh-start sync, first login) check with errors.Is.
var ErrNotFound = errors.New("not found")

// UserRecord is the persisted profile for a connected athlete.
type UserRecord struct {
	ID           string    `firestore:"id" json:"id"`
	AthleteID    string    `firestore:"athleteId" json:"athlete_id"`
	Name         string    `firestore:"name" json:"name"`
	Email        string    `firestore:"email,omitempty" json:"email,omitempty"`
	Avatar       string    `firestore:"avatar,omitempty" json:"avatar,omitempty"`
	TilesKey     string    `firestore:"tilesKey,omitempty" json:"tiles_key,omitempty"`
	AccessToken  string    `firestore:"accessToken,omitempty" json:"-"`
	RefreshToken string    `firestore:"refreshToken,omitempty" json:"-"`
	TokenExpiry  time.Time `firestore:"tokenExpiry,omitempty" json:"-"`
	FCMTokens    []string  `firestore:"fcmTokens,omitempty" json:"-"`
	CreatedAt    time.Time `firestore:"createdAt" json:"created_at"`
	UpdatedAt    time.Time `firestore:"updatedAt" json:"updated_at"`
}

// OAuthState is a short-lived CSRF nonce created at login and consumed
// exactly once by the OAuth callback.
type OAuthState struct {
	State        string    `firestore:"state"`
	RedirectPath string    `firestore:"redirectPath,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
	ExpiresAt    time.Time `firestore:"expiresAt"`
}

// --- Persistence Interfaces ---

type Database interface {
	GetUser(ctx context.Context, id string) (*UserRecord, error)
	SetUser(ctx context.Context, user *UserRecord) error
	UpdateUser(ctx context.Context, id string, data map[string]interface{}) error

	// OAuth login flow
	CreateOAuthState(ctx context.Context, state *OAuthState) error
	ConsumeOAuthState(ctx context.Context, state string) (*OAuthState, error)

	// Sync status documents polled by the front end
	SetSyncStatus(ctx context.Context, userID, syncID string, data map[string]interface{}) error
	UpdateSyncStatus(ctx context.Context, userID, syncID string, data map[string]interface{}) error
}

// --- Storage Interfaces ---

type BlobStore interface {
	Read(ctx context.Context, bucket, object string) ([]byte, error)
	// NewReader streams an object without buffering it in memory.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	Write(ctx context.Context, bucket, object string, data []byte, contentType string) error
	Delete(ctx context.Context, bucket, object string) error
}

// --- Messaging Interfaces ---

type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) (string, error)
}

// --- Notification Interfaces ---

type NotificationService interface {
	SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error
}
