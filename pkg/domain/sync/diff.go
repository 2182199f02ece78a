package sync

import (
	"github.com/tracktiles/server/pkg/integrations/intervals"
)

// Partition walks the current catalog and copies every entry whose
// composite key is already in prior into next, returning the activities
// that must be fetched. An activity whose fingerprint changed misses the
// copy and is returned, so its stale key is dropped rather than carried
// forward. Activities no longer in the catalog are forgotten the same
// way: only the current catalog is iterated, so their keys never reach
// next.
func Partition(prior *ActivityIndex, catalog []intervals.Activity, next *ActivityIndex) []intervals.Activity {
	if prior == nil {
		return catalog
	}

	var changed []intervals.Activity
	for i := range catalog {
		if !prior.TryCopy(&catalog[i], next) {
			changed = append(changed, catalog[i])
		}
	}
	return changed
}
