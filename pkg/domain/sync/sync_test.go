package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracktiles/server/pkg/infrastructure/compress"
	"github.com/tracktiles/server/pkg/integrations/intervals"
	"github.com/tracktiles/server/pkg/testing/mocks"
)

func datasetLines(t *testing.T, store *mocks.MemoryBlobStore, userID string) [][]byte {
	t.Helper()

	raw, ok := store.Get(testBucket, userID+"/activities.geojson."+compress.Ext)
	require.True(t, ok, "dataset not stored")
	plain, err := compress.Decode(raw)
	require.NoError(t, err)

	var lines [][]byte
	for _, line := range bytes.Split(plain, []byte("\n")) {
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

func storedIndex(t *testing.T, store *mocks.MemoryBlobStore, userID string) *ActivityIndex {
	t.Helper()

	raw, ok := store.Get(testBucket, userID+"/activities.index")
	require.True(t, ok, "index not stored")
	var idx ActivityIndex
	require.NoError(t, json.Unmarshal(raw, &idx))
	return &idx
}

func lineIdentities(t *testing.T, lines [][]byte) map[string]string {
	t.Helper()

	out := make(map[string]string, len(lines))
	for _, line := range lines {
		var ident lineIdentity
		require.NoError(t, json.Unmarshal(line, &ident))
		out[ident.Properties.ID] = ident.Properties.Fingerprint
	}
	return out
}

func TestRunFreshStart(t *testing.T) {
	fitData := encodeTestFIT(t)
	activities := makeActivities(3)

	catalog := &mocks.FakeCatalog{
		Activities: activities,
		FITData: map[string][]byte{
			activities[0].ID: fitData,
			activities[1].ID: fitData,
			// activities[2] has no GPS data
		},
	}
	store := mocks.NewMemoryBlobStore()
	s := NewSyncer("user-1", catalog, store, testBucket, nil, testLogger())

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.Equal(t, int64(2), result.Stats.Downloaded)
	assert.Equal(t, int64(1), result.Stats.Empty)
	assert.Equal(t, int64(0), result.Stats.Skipped)
	assert.Equal(t, int64(0), result.Stats.Failed)

	lines := datasetLines(t, store, "user-1")
	assert.Len(t, lines, 2)

	idx := storedIndex(t, store, "user-1")
	assert.Equal(t, 2, len(idx.Geometry))
	assert.Equal(t, 1, len(idx.Empty))
	assert.True(t, idx.Empty.contains(CompositeKey(activities[2].ID, activities[2].Fingerprint())))

	// Local merged copy handed to tile generation
	local, err := os.ReadFile(result.GeoJSONPath)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(local, []byte("\n")))
}

func TestRunIsIdempotent(t *testing.T) {
	fitData := encodeTestFIT(t)
	activities := makeActivities(5)

	catalog := &mocks.FakeCatalog{Activities: activities, FITData: map[string][]byte{}}
	for _, a := range activities {
		catalog.FITData[a.ID] = fitData
	}
	store := mocks.NewMemoryBlobStore()

	first, err := NewSyncer("user-9", catalog, store, testBucket, nil, testLogger()).Run(context.Background())
	require.NoError(t, err)
	require.True(t, first.Changed)
	require.Equal(t, 5, catalog.TotalDownloads())

	indexBefore := storedIndex(t, store, "user-9")

	second, err := NewSyncer("user-9", catalog, store, testBucket, nil, testLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, second.Changed)
	assert.Equal(t, int64(5), second.Stats.Skipped)
	assert.Equal(t, 5, catalog.TotalDownloads(), "no re-downloads on unchanged catalog")

	indexAfter := storedIndex(t, store, "user-9")
	assert.Equal(t, indexBefore.Geometry, indexAfter.Geometry)
	assert.Equal(t, indexBefore.Empty, indexAfter.Empty)
}

func TestRunIncremental(t *testing.T) {
	fitData := encodeTestFIT(t)
	a1 := makeActivity("a1", 600)

	catalog := &mocks.FakeCatalog{
		Activities: []intervals.Activity{a1},
		FITData:    map[string][]byte{"a1": fitData},
	}
	store := mocks.NewMemoryBlobStore()

	_, err := NewSyncer("user-1", catalog, store, testBucket, nil, testLogger()).Run(context.Background())
	require.NoError(t, err)

	// a1 gets renamed upstream and a2 appears
	a1Renamed := a1
	a1Renamed.Name = "Morning Commute"
	a2 := makeActivity("a2", 900)
	catalog.Activities = []intervals.Activity{a1Renamed, a2}
	catalog.FITData["a2"] = fitData

	result, err := NewSyncer("user-1", catalog, store, testBucket, nil, testLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.Equal(t, int64(2), result.Stats.Downloaded)
	assert.Equal(t, 2, catalog.DownloadCount("a1"), "renamed activity is re-fetched")
	assert.Equal(t, 1, catalog.DownloadCount("a2"))

	idents := lineIdentities(t, datasetLines(t, store, "user-1"))
	assert.Len(t, idents, 2)
	assert.Equal(t, a1Renamed.Fingerprint(), idents["a1"], "archive carries the new version of a1")
	assert.Equal(t, a2.Fingerprint(), idents["a2"])

	idx := storedIndex(t, store, "user-1")
	assert.False(t, idx.Geometry.contains(CompositeKey(a1.ID, a1.Fingerprint())), "stale key dropped")
}

func TestRunRemovesDeletedActivities(t *testing.T) {
	fitData := encodeTestFIT(t)
	activities := makeActivities(3)

	catalog := &mocks.FakeCatalog{Activities: activities, FITData: map[string][]byte{}}
	for _, a := range activities {
		catalog.FITData[a.ID] = fitData
	}
	store := mocks.NewMemoryBlobStore()

	_, err := NewSyncer("user-1", catalog, store, testBucket, nil, testLogger()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, datasetLines(t, store, "user-1"), 3)
	downloadsAfterFirst := catalog.TotalDownloads()

	// Two activities deleted upstream
	catalog.Activities = activities[:1]

	result, err := NewSyncer("user-1", catalog, store, testBucket, nil, testLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Changed, "deletions alone force a rewrite")
	assert.Equal(t, downloadsAfterFirst, catalog.TotalDownloads(), "surviving activity not re-downloaded")
	assert.Len(t, datasetLines(t, store, "user-1"), 1)
	assert.Equal(t, 1, storedIndex(t, store, "user-1").Total())
}

func TestRunFreshStartWhenDatasetMissing(t *testing.T) {
	fitData := encodeTestFIT(t)
	activities := makeActivities(2)

	catalog := &mocks.FakeCatalog{Activities: activities, FITData: map[string][]byte{}}
	for _, a := range activities {
		catalog.FITData[a.ID] = fitData
	}
	store := mocks.NewMemoryBlobStore()

	_, err := NewSyncer("user-1", catalog, store, testBucket, nil, testLogger()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, catalog.TotalDownloads())

	// Index survives but the dataset it describes vanishes
	store.Remove(testBucket, "user-1/activities.geojson."+compress.Ext)

	result, err := NewSyncer("user-1", catalog, store, testBucket, nil, testLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.Equal(t, 4, catalog.TotalDownloads(), "everything re-downloaded on fresh start")
	assert.Len(t, datasetLines(t, store, "user-1"), 2)
}

func TestRunListFailure(t *testing.T) {
	catalog := &mocks.FakeCatalog{ListErr: assert.AnError}
	s := NewSyncer("user-1", catalog, mocks.NewMemoryBlobStore(), testBucket, nil, testLogger())

	_, err := s.Run(context.Background())
	assert.Error(t, err)
}
