package intervals

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient("test-key", "a42")
	c.endpoint = server.URL
	return c
}

func TestListActivities(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/athlete/a42/activities", r.URL.Path)
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "test-key", user)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"i1","name":"Ride","start_date_local":"2026-01-01T09:00:00","type":"Ride","distance":12345.6,"elapsed_time":1800},
			{"id":"i2","name":"Yoga","start_date_local":"2026-01-02T18:00:00","type":"Yoga","elapsed_time":2400}
		]`))
	}))

	activities, err := c.ListActivities(context.Background())
	require.NoError(t, err)
	require.Len(t, activities, 2)

	assert.Equal(t, "i1", activities[0].ID)
	require.NotNil(t, activities[0].Distance)
	assert.InDelta(t, 12345.6, *activities[0].Distance, 1e-9)

	// Missing distance decodes as absent, not zero
	assert.Nil(t, activities[1].Distance)
}

func TestDownloadFITNoData(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	_, err := c.DownloadFIT(context.Background(), "i1")
	assert.True(t, errors.Is(err, ErrNoGPSData))
}

func TestDownloadFITSuccess(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/activity/i7/fit-file", r.URL.Path)
		w.Write([]byte{0x0e, 0x10, 0x22, 0x00})
	}))

	data, err := c.DownloadFIT(context.Background(), "i7")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0e, 0x10, 0x22, 0x00}, data)
}

func TestDownloadFITErrorIsNotNoData(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))

	_, err := c.DownloadFIT(context.Background(), "i1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoGPSData))
}

func TestDoRequestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))

	activities, err := c.ListActivities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, activities)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetAthleteProfile(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/athlete", r.URL.Path)
		w.Write([]byte(`{"id":"a42","name":"Test Athlete","email":"a@example.com"}`))
	}))

	profile, err := c.GetAthleteProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a42", profile.ID)
	assert.Equal(t, "Test Athlete", profile.Name)
}
