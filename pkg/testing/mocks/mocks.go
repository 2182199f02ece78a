// Package mocks provides in-memory and func-field test doubles for the
// shared interfaces.
package mocks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	shared "github.com/tracktiles/server/pkg"
	"github.com/tracktiles/server/pkg/integrations/intervals"
)

// --- Mock Database ---
type MockDatabase struct {
	GetUserFunc           func(ctx context.Context, id string) (*shared.UserRecord, error)
	SetUserFunc           func(ctx context.Context, user *shared.UserRecord) error
	UpdateUserFunc        func(ctx context.Context, id string, data map[string]interface{}) error
	CreateOAuthStateFunc  func(ctx context.Context, state *shared.OAuthState) error
	ConsumeOAuthStateFunc func(ctx context.Context, state string) (*shared.OAuthState, error)
	SetSyncStatusFunc     func(ctx context.Context, userID, syncID string, data map[string]interface{}) error
	UpdateSyncStatusFunc  func(ctx context.Context, userID, syncID string, data map[string]interface{}) error
}

func (m *MockDatabase) GetUser(ctx context.Context, id string) (*shared.UserRecord, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, id)
	}
	return nil, shared.ErrNotFound
}
func (m *MockDatabase) SetUser(ctx context.Context, user *shared.UserRecord) error {
	if m.SetUserFunc != nil {
		return m.SetUserFunc(ctx, user)
	}
	return nil
}
func (m *MockDatabase) UpdateUser(ctx context.Context, id string, data map[string]interface{}) error {
	if m.UpdateUserFunc != nil {
		return m.UpdateUserFunc(ctx, id, data)
	}
	return nil
}
func (m *MockDatabase) CreateOAuthState(ctx context.Context, state *shared.OAuthState) error {
	if m.CreateOAuthStateFunc != nil {
		return m.CreateOAuthStateFunc(ctx, state)
	}
	return nil
}
func (m *MockDatabase) ConsumeOAuthState(ctx context.Context, state string) (*shared.OAuthState, error) {
	if m.ConsumeOAuthStateFunc != nil {
		return m.ConsumeOAuthStateFunc(ctx, state)
	}
	return nil, shared.ErrNotFound
}
func (m *MockDatabase) SetSyncStatus(ctx context.Context, userID, syncID string, data map[string]interface{}) error {
	if m.SetSyncStatusFunc != nil {
		return m.SetSyncStatusFunc(ctx, userID, syncID, data)
	}
	return nil
}
func (m *MockDatabase) UpdateSyncStatus(ctx context.Context, userID, syncID string, data map[string]interface{}) error {
	if m.UpdateSyncStatusFunc != nil {
		return m.UpdateSyncStatusFunc(ctx, userID, syncID, data)
	}
	return nil
}

// --- Mock Publisher ---
type MockPublisher struct {
	PublishFunc func(ctx context.Context, topic string, data []byte) (string, error)

	mu        sync.Mutex
	Published []PublishedMessage
}

type PublishedMessage struct {
	Topic string
	Data  []byte
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	m.mu.Lock()
	m.Published = append(m.Published, PublishedMessage{Topic: topic, Data: data})
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, data)
	}
	return "msg-id", nil
}

// --- Mock Notifications ---
type MockNotificationService struct {
	SendPushNotificationFunc func(ctx context.Context, userID, title, body string, tokens []string, data map[string]string) error
}

func (m *MockNotificationService) SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error {
	if m.SendPushNotificationFunc != nil {
		return m.SendPushNotificationFunc(ctx, userID, title, body, tokens, data)
	}
	return nil
}

// --- Memory Blob Store ---

// MemoryBlobStore is a thread-safe in-memory BlobStore. Unlike the
// func-field mocks it holds real state, which multi-step pipeline tests
// (write index, read it back, stream the dataset) need.
type MemoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// ReadCalls counts Read and NewReader invocations per object.
	ReadCalls map[string]int
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		objects:   make(map[string][]byte),
		ReadCalls: make(map[string]int),
	}
}

func objectKey(bucket, object string) string {
	return bucket + "/" + object
}

func (m *MemoryBlobStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls[objectKey(bucket, object)]++
	data, ok := m.objects[objectKey(bucket, object)]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", object, shared.ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryBlobStore) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	data, err := m.Read(ctx, bucket, object)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryBlobStore) Write(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[objectKey(bucket, object)] = stored
	return nil
}

func (m *MemoryBlobStore) Delete(ctx context.Context, bucket, object string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[objectKey(bucket, object)]; !ok {
		return fmt.Errorf("object %s: %w", object, shared.ErrNotFound)
	}
	delete(m.objects, objectKey(bucket, object))
	return nil
}

// Get returns a stored object without counting as a read.
func (m *MemoryBlobStore) Get(bucket, object string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectKey(bucket, object)]
	return data, ok
}

// Remove drops an object without error semantics, for test setup.
func (m *MemoryBlobStore) Remove(bucket, object string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectKey(bucket, object))
}

// Len reports how many objects are stored.
func (m *MemoryBlobStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// --- Fake Catalog ---

// FakeCatalog serves a canned activity list and per-activity FIT payloads.
type FakeCatalog struct {
	Activities []intervals.Activity
	// FITData maps activity ID to its download payload. Errors maps an
	// activity ID to a forced download error. Activities in neither map
	// return ErrNoGPSData.
	FITData map[string][]byte
	Errors  map[string]error

	ListErr error

	mu        sync.Mutex
	Downloads map[string]int
}

func (f *FakeCatalog) ListActivities(ctx context.Context) ([]intervals.Activity, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]intervals.Activity, len(f.Activities))
	copy(out, f.Activities)
	return out, nil
}

func (f *FakeCatalog) DownloadFIT(ctx context.Context, activityID string) ([]byte, error) {
	f.mu.Lock()
	if f.Downloads == nil {
		f.Downloads = make(map[string]int)
	}
	f.Downloads[activityID]++
	f.mu.Unlock()

	if err, ok := f.Errors[activityID]; ok {
		return nil, err
	}
	if data, ok := f.FITData[activityID]; ok {
		return data, nil
	}
	return nil, intervals.ErrNoGPSData
}

// DownloadCount reports how many times an activity was fetched.
func (f *FakeCatalog) DownloadCount(activityID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Downloads[activityID]
}

// TotalDownloads reports the total number of download calls.
func (f *FakeCatalog) TotalDownloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Downloads {
		n += c
	}
	return n
}
