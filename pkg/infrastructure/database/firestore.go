package database

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/tracktiles/server/pkg"
)

// FirestoreAdapter provides database operations using Firestore
type FirestoreAdapter struct {
	Client *firestore.Client
}

func NewFirestoreAdapter(client *firestore.Client) *FirestoreAdapter {
	return &FirestoreAdapter{Client: client}
}

func (a *FirestoreAdapter) GetUser(ctx context.Context, id string) (*shared.UserRecord, error) {
	snap, err := a.Client.Collection(shared.CollectionUsers).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	var user shared.UserRecord
	if err := snap.DataTo(&user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	return &user, nil
}

func (a *FirestoreAdapter) SetUser(ctx context.Context, user *shared.UserRecord) error {
	_, err := a.Client.Collection(shared.CollectionUsers).Doc(user.ID).Set(ctx, user)
	return err
}

func (a *FirestoreAdapter) UpdateUser(ctx context.Context, id string, data map[string]interface{}) error {
	_, err := a.Client.Collection(shared.CollectionUsers).Doc(id).Update(ctx, toUpdates(data))
	return mapError(err)
}

func (a *FirestoreAdapter) CreateOAuthState(ctx context.Context, state *shared.OAuthState) error {
	_, err := a.Client.Collection(shared.CollectionOAuthState).Doc(state.State).Create(ctx, state)
	return err
}

// ConsumeOAuthState deletes the state document as it reads it so a code
// exchange can only succeed once per login attempt.
func (a *FirestoreAdapter) ConsumeOAuthState(ctx context.Context, state string) (*shared.OAuthState, error) {
	doc := a.Client.Collection(shared.CollectionOAuthState).Doc(state)
	snap, err := doc.Get(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	var st shared.OAuthState
	if err := snap.DataTo(&st); err != nil {
		return nil, fmt.Errorf("decode oauth state: %w", err)
	}
	if _, err := doc.Delete(ctx); err != nil {
		return nil, fmt.Errorf("delete oauth state: %w", err)
	}
	if time.Now().After(st.ExpiresAt) {
		return nil, shared.ErrNotFound
	}
	return &st, nil
}

func (a *FirestoreAdapter) SetSyncStatus(ctx context.Context, userID, syncID string, data map[string]interface{}) error {
	_, err := a.syncStatusDoc(userID, syncID).Set(ctx, data, firestore.MergeAll)
	return err
}

func (a *FirestoreAdapter) UpdateSyncStatus(ctx context.Context, userID, syncID string, data map[string]interface{}) error {
	_, err := a.syncStatusDoc(userID, syncID).Update(ctx, toUpdates(data))
	return mapError(err)
}

func (a *FirestoreAdapter) syncStatusDoc(userID, syncID string) *firestore.DocumentRef {
	return a.Client.Collection(shared.CollectionSyncStatus).Doc(fmt.Sprintf("%s_%s", userID, syncID))
}

// toUpdates converts a flat map into firestore.Update values; dotted keys
// address nested fields (e.g. "phases.downloading.processed").
func toUpdates(data map[string]interface{}) []firestore.Update {
	updates := make([]firestore.Update, 0, len(data))
	for k, v := range data {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	return updates
}

func mapError(err error) error {
	if status.Code(err) == codes.NotFound {
		return shared.ErrNotFound
	}
	return err
}
