package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	shared "github.com/tracktiles/server/pkg"
)

// Sync phases surfaced to polling clients.
const (
	PhaseAnalyzing   = "analyzing"
	PhaseDownloading = "downloading"
	PhaseGenerating  = "generating"
	PhaseCompleted   = "completed"
	PhaseFailed      = "failed"
)

const statusWriteTimeout = 10 * time.Second

// StatusUpdater publishes sync progress to the status collection. Every
// update after Initialize is fire-and-forget: status is a UI nicety and
// must never slow down or fail the sync itself. A nil *StatusUpdater is
// valid and does nothing, which keeps CLI runs free of any database.
type StatusUpdater struct {
	db     shared.Database
	userID string
	syncID string
	logger *slog.Logger

	wg sync.WaitGroup
}

func NewStatusUpdater(db shared.Database, userID, syncID string, logger *slog.Logger) *StatusUpdater {
	if db == nil {
		return nil
	}
	return &StatusUpdater{db: db, userID: userID, syncID: syncID, logger: logger}
}

// Initialize writes the initial status document synchronously so a
// client that triggered the sync immediately sees something to poll.
func (u *StatusUpdater) Initialize(ctx context.Context) {
	if u == nil {
		return
	}
	err := u.db.SetSyncStatus(ctx, u.userID, u.syncID, map[string]interface{}{
		"syncId":    u.syncID,
		"phase":     PhaseAnalyzing,
		"startedAt": time.Now().UTC(),
	})
	if err != nil {
		u.logger.Warn("Failed to initialize sync status", "error", err)
	}
}

func (u *StatusUpdater) StartAnalyzing() {
	u.update(map[string]interface{}{"phase": PhaseAnalyzing})
}

func (u *StatusUpdater) CompleteAnalyzing(total, unchanged, changed int) {
	u.update(map[string]interface{}{
		"totalActivities": total,
		"unchanged":       unchanged,
		"changed":         changed,
	})
}

func (u *StatusUpdater) StartDownloading(queued int) {
	u.update(map[string]interface{}{
		"phase":  PhaseDownloading,
		"queued": queued,
	})
}

func (u *StatusUpdater) DownloadProgress(processed int) {
	u.update(map[string]interface{}{"processed": processed})
}

func (u *StatusUpdater) CompleteDownloading(snapshot Snapshot) {
	u.update(map[string]interface{}{
		"downloaded": snapshot.Downloaded,
		"empty":      snapshot.Empty,
		"failed":     snapshot.Failed,
	})
}

func (u *StatusUpdater) StartGenerating() {
	u.update(map[string]interface{}{"phase": PhaseGenerating})
}

func (u *StatusUpdater) MarkCompleted() {
	u.update(map[string]interface{}{
		"phase":       PhaseCompleted,
		"completedAt": time.Now().UTC(),
	})
}

func (u *StatusUpdater) MarkFailed(reason string) {
	u.update(map[string]interface{}{
		"phase":       PhaseFailed,
		"error":       reason,
		"completedAt": time.Now().UTC(),
	})
}

// Flush blocks until all in-flight status writes have settled. Callers
// invoke it once at the end of a run so short-lived function instances
// do not drop the final phase transition.
func (u *StatusUpdater) Flush() {
	if u == nil {
		return
	}
	u.wg.Wait()
}

func (u *StatusUpdater) update(data map[string]interface{}) {
	if u == nil {
		return
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		// Detached from the run context so a cancelled sync can still
		// record its terminal phase.
		ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
		defer cancel()
		if err := u.db.UpdateSyncStatus(ctx, u.userID, u.syncID, data); err != nil {
			u.logger.Warn("Failed to update sync status", "error", err)
		}
	}()
}
