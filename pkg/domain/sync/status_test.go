package sync

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracktiles/server/pkg/testing/mocks"
)

func TestStatusUpdaterNilIsSafe(t *testing.T) {
	var u *StatusUpdater

	u.Initialize(context.Background())
	u.StartAnalyzing()
	u.CompleteAnalyzing(10, 8, 2)
	u.StartDownloading(2)
	u.DownloadProgress(1)
	u.CompleteDownloading(Snapshot{})
	u.StartGenerating()
	u.MarkCompleted()
	u.Flush()
}

func TestStatusUpdaterPhases(t *testing.T) {
	var mu sync.Mutex
	var phases []string

	db := &mocks.MockDatabase{
		UpdateSyncStatusFunc: func(ctx context.Context, userID, syncID string, data map[string]interface{}) error {
			mu.Lock()
			defer mu.Unlock()
			if phase, ok := data["phase"].(string); ok {
				phases = append(phases, phase)
			}
			return nil
		},
	}

	u := NewStatusUpdater(db, "user-1", "sync-1", testLogger())
	require.NotNil(t, u)

	u.StartDownloading(3)
	u.Flush()
	u.MarkCompleted()
	u.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{PhaseDownloading, PhaseCompleted}, phases)
}

func TestStatusUpdaterInitializeWritesDocument(t *testing.T) {
	var set map[string]interface{}
	db := &mocks.MockDatabase{
		SetSyncStatusFunc: func(ctx context.Context, userID, syncID string, data map[string]interface{}) error {
			set = data
			return nil
		},
	}

	u := NewStatusUpdater(db, "user-1", "sync-1", testLogger())
	u.Initialize(context.Background())

	require.NotNil(t, set)
	assert.Equal(t, PhaseAnalyzing, set["phase"])
	assert.Equal(t, "sync-1", set["syncId"])
}

func TestNewStatusUpdaterNilDatabase(t *testing.T) {
	assert.Nil(t, NewStatusUpdater(nil, "user-1", "sync-1", testLogger()))
}
