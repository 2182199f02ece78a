package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracktiles/server/pkg/infrastructure/compress"
	"github.com/tracktiles/server/pkg/testing/mocks"
)

func featureLine(activityID, fingerprint string) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"Feature","geometry":{"type":"LineString","coordinates":[[8,47],[8,47.001]]},"properties":{"name":"r","date":"d","type":"Ride","id":%q,"fingerprint":%q}}`,
		activityID, fingerprint))
}

func seedDataset(t *testing.T, store *mocks.MemoryBlobStore, userID string, lines ...[]byte) {
	t.Helper()

	joined := bytes.Join(lines, []byte("\n"))
	if len(joined) > 0 {
		joined = append(joined, '\n')
	}
	compressed, err := compress.Encode(joined)
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), testBucket,
		userID+"/activities.geojson."+compress.Ext, compressed, "application/zstd"))
}

func seedIndex(t *testing.T, store *mocks.MemoryBlobStore, idx *ActivityIndex) {
	t.Helper()

	data, err := json.Marshal(idx)
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), testBucket,
		idx.UserID+"/activities.index", data, "application/json"))
}

func TestFinalizeArchiveMergesSurvivorsAndStaged(t *testing.T) {
	store := mocks.NewMemoryBlobStore()
	seedDataset(t, store, "user-1",
		featureLine("a1", "f1"),
		featureLine("a2", "f2"),
	)

	prior := NewIndex("user-1")
	prior.InsertGeometry("a1", "f1")
	prior.InsertGeometry("a2", "f2")

	// a1 survives, a2 was modified (new version staged), a3 is new
	next := NewIndex("user-1")
	next.InsertGeometry("a1", "f1")

	workDir := t.TempDir()
	stagingDir := filepath.Join(workDir, "staging")
	require.NoError(t, os.Mkdir(stagingDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(stagingDir, stagedFileName("a2", "f2v2", stagedGeometryExt)),
		featureLine("a2", "f2v2"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(stagingDir, stagedFileName("a3", "f3", stagedEmptyExt)),
		nil, 0o644))

	s := NewSyncer("user-1", nil, store, testBucket, nil, testLogger())
	outPath, err := s.finalizeArchive(context.Background(), prior, next, stagingDir, workDir)
	require.NoError(t, err)

	idents := lineIdentities(t, datasetLines(t, store, "user-1"))
	assert.Equal(t, map[string]string{"a1": "f1", "a2": "f2v2"}, idents)

	assert.True(t, next.Geometry.contains(CompositeKey("a2", "f2v2")))
	assert.True(t, next.Empty.contains(CompositeKey("a3", "f3")))
	assert.Equal(t, 3, next.Total())

	// Staging is gone once both uploads landed
	_, err = os.Stat(stagingDir)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(outPath)
	assert.NoError(t, err)
}

func TestFinalizeArchiveSkipsMalformedLines(t *testing.T) {
	store := mocks.NewMemoryBlobStore()
	seedDataset(t, store, "user-1",
		featureLine("a1", "f1"),
		[]byte(`{"type":"Feature","properties":`), // truncated write from a past crash
		featureLine("a2", "f2"),
	)

	prior := NewIndex("user-1")
	prior.InsertGeometry("a1", "f1")
	prior.InsertGeometry("a2", "f2")

	next := NewIndex("user-1")
	next.InsertGeometry("a1", "f1")
	next.InsertGeometry("a2", "f2")

	workDir := t.TempDir()
	stagingDir := filepath.Join(workDir, "staging")
	require.NoError(t, os.Mkdir(stagingDir, 0o755))

	s := NewSyncer("user-1", nil, store, testBucket, nil, testLogger())
	_, err := s.finalizeArchive(context.Background(), prior, next, stagingDir, workDir)
	require.NoError(t, err)

	idents := lineIdentities(t, datasetLines(t, store, "user-1"))
	assert.Equal(t, map[string]string{"a1": "f1", "a2": "f2"}, idents)
}

func TestFinalizeArchiveStreamsLargeDataset(t *testing.T) {
	if testing.Short() {
		t.Skip("large dataset merge")
	}

	store := mocks.NewMemoryBlobStore()
	prior := NewIndex("user-1")
	next := NewIndex("user-1")

	const n = 100_000
	lines := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("a%06d", i)
		lines = append(lines, featureLine(id, "ff"))
		prior.InsertGeometry(id, "ff")
		if i%2 == 0 {
			next.InsertGeometry(id, "ff")
		}
	}
	seedDataset(t, store, "user-1", lines...)

	workDir := t.TempDir()
	stagingDir := filepath.Join(workDir, "staging")
	require.NoError(t, os.Mkdir(stagingDir, 0o755))

	s := NewSyncer("user-1", nil, store, testBucket, nil, testLogger())
	_, err := s.finalizeArchive(context.Background(), prior, next, stagingDir, workDir)
	require.NoError(t, err)

	assert.Len(t, datasetLines(t, store, "user-1"), n/2)
}

func TestLoadIndexFreshStarts(t *testing.T) {
	ctx := context.Background()

	t.Run("missing index", func(t *testing.T) {
		s := NewSyncer("user-1", nil, mocks.NewMemoryBlobStore(), testBucket, nil, testLogger())
		assert.Nil(t, s.loadIndex(ctx))
	})

	t.Run("corrupt index", func(t *testing.T) {
		store := mocks.NewMemoryBlobStore()
		require.NoError(t, store.Write(ctx, testBucket, "user-1/activities.index",
			[]byte("not json"), "application/json"))
		s := NewSyncer("user-1", nil, store, testBucket, nil, testLogger())
		assert.Nil(t, s.loadIndex(ctx))
	})

	t.Run("index without dataset", func(t *testing.T) {
		store := mocks.NewMemoryBlobStore()
		idx := NewIndex("user-1")
		idx.InsertGeometry("a1", "f1")
		seedIndex(t, store, idx)
		s := NewSyncer("user-1", nil, store, testBucket, nil, testLogger())
		assert.Nil(t, s.loadIndex(ctx))
	})

	t.Run("index with dataset", func(t *testing.T) {
		store := mocks.NewMemoryBlobStore()
		idx := NewIndex("user-1")
		idx.InsertGeometry("a1", "f1")
		seedIndex(t, store, idx)
		seedDataset(t, store, "user-1", featureLine("a1", "f1"))
		s := NewSyncer("user-1", nil, store, testBucket, nil, testLogger())
		loaded := s.loadIndex(ctx)
		require.NotNil(t, loaded)
		assert.True(t, loaded.Geometry.contains("a1:f1"))
	})
}
