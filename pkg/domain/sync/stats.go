package sync

import "sync/atomic"

// Stats accumulates per-activity outcomes across concurrent pipeline
// tasks. Every queued activity lands in exactly one counter.
type Stats struct {
	Downloaded atomic.Int64 // downloaded and converted with track geometry
	Empty      atomic.Int64 // downloaded, confirmed to have no usable location data
	Skipped    atomic.Int64 // carried forward unchanged, not downloaded
	Failed     atomic.Int64 // download or conversion failed; retried next run
}

// Snapshot is a plain-value copy for reporting after the run completes.
type Snapshot struct {
	Downloaded int64 `json:"downloaded"`
	Empty      int64 `json:"downloaded_empty"`
	Skipped    int64 `json:"skipped_unchanged"`
	Failed     int64 `json:"failed"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Downloaded: s.Downloaded.Load(),
		Empty:      s.Empty.Load(),
		Skipped:    s.Skipped.Load(),
		Failed:     s.Failed.Load(),
	}
}

// Processed is the number of activities the pipeline has finished with,
// successfully or not.
func (s *Stats) Processed() int64 {
	return s.Downloaded.Load() + s.Empty.Load() + s.Failed.Load()
}
