package sync

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/tracktiles/server/pkg/integrations/intervals"
)

// keySet is a set of composite keys that serializes as a sorted JSON
// array, so two indexes with the same membership are byte-identical.
type keySet map[string]struct{}

func (s keySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(slices.Sorted(maps.Keys(s)))
}

func (s *keySet) UnmarshalJSON(data []byte) error {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = make(keySet, len(keys))
	for _, k := range keys {
		(*s)[k] = struct{}{}
	}
	return nil
}

func (s keySet) contains(key string) bool {
	_, ok := s[key]
	return ok
}

// ActivityIndex records which activities have already been converted,
// keyed by "{activity_id}:{fingerprint}" so any metadata change
// invalidates the entry. Geometry and Empty are disjoint: an activity
// either produced track geometry or was confirmed to have none.
type ActivityIndex struct {
	UserID      string    `json:"user_id"`
	LastUpdated time.Time `json:"last_updated"`
	Geometry    keySet    `json:"geometry_activities"`
	Empty       keySet    `json:"empty_activities"`
}

// NewIndex returns an empty index for the given user.
func NewIndex(userID string) *ActivityIndex {
	return &ActivityIndex{
		UserID:      userID,
		LastUpdated: time.Now().UTC(),
		Geometry:    keySet{},
		Empty:       keySet{},
	}
}

// CompositeKey builds the index membership key for an activity version.
func CompositeKey(activityID, fingerprint string) string {
	return fmt.Sprintf("%s:%s", activityID, fingerprint)
}

func (idx *ActivityIndex) InsertGeometry(activityID, fingerprint string) {
	idx.Geometry[CompositeKey(activityID, fingerprint)] = struct{}{}
}

func (idx *ActivityIndex) InsertEmpty(activityID, fingerprint string) {
	idx.Empty[CompositeKey(activityID, fingerprint)] = struct{}{}
}

// Total is the number of activities the index knows about.
func (idx *ActivityIndex) Total() int {
	return len(idx.Geometry) + len(idx.Empty)
}

// TryCopy checks whether the activity's current fingerprint is already
// present and, if so, carries the key forward into target. No geometry
// is touched here; the archive finalizer re-emits it later by key.
// Returns false when the activity is new or changed.
func (idx *ActivityIndex) TryCopy(activity *intervals.Activity, target *ActivityIndex) bool {
	key := CompositeKey(activity.ID, activity.Fingerprint())

	if idx.Geometry.contains(key) {
		target.Geometry[key] = struct{}{}
		return true
	}
	if idx.Empty.contains(key) {
		target.Empty[key] = struct{}{}
		return true
	}
	return false
}
