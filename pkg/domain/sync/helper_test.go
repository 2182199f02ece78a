package sync

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
	"github.com/stretchr/testify/require"

	"github.com/tracktiles/server/pkg/integrations/intervals"
)

const testBucket = "activity-bucket"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// encodeTestFIT builds a minimal FIT file with a short straight track.
func encodeTestFIT(t *testing.T) []byte {
	t.Helper()

	start := time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC)
	var semicircles = 2147483648.0 / 180.0

	fit := &proto.FIT{}
	fileId := mesgdef.NewFileId(nil).
		SetType(typedef.FileActivity).
		SetManufacturer(typedef.ManufacturerDevelopment).
		SetProduct(1).
		SetTimeCreated(start)
	fit.Messages = append(fit.Messages, fileId.ToMesg(nil))

	for i := 0; i < 4; i++ {
		rec := mesgdef.NewRecord(nil).
			SetTimestamp(start.Add(time.Duration(i) * time.Second)).
			SetPositionLat(int32((47.0 + float64(i)*0.0001) * semicircles)).
			SetPositionLong(int32(8.0 * semicircles))
		fit.Messages = append(fit.Messages, rec.ToMesg(nil))
	}

	var buf bytes.Buffer
	require.NoError(t, encoder.New(&buf).Encode(fit))
	return buf.Bytes()
}

func makeActivity(id string, elapsed int64) intervals.Activity {
	return intervals.Activity{
		ID:             id,
		Name:           "Ride " + id,
		StartDateLocal: "2026-04-12T09:00:00",
		Type:           "Ride",
		ElapsedTime:    elapsed,
	}
}

func makeActivities(n int) []intervals.Activity {
	out := make([]intervals.Activity, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, makeActivity(fmt.Sprintf("i%03d", i), int64(600+i)))
	}
	return out
}
