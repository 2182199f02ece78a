package intervals

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Activity is one entry in an athlete's activity catalog.
type Activity struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	StartDateLocal string   `json:"start_date_local"` // ISO 8601 format
	Type           string   `json:"type"`
	Distance       *float64 `json:"distance"` // meters; absent for activities without one
	ElapsedTime    int64    `json:"elapsed_time"`
}

// Fingerprint returns a stable hash over the fields that indicate the
// underlying recording may have changed: id, name, start timestamp,
// elapsed time and distance. An absent distance is excluded from the
// hash rather than treated as zero.
func (a *Activity) Fingerprint() string {
	d := xxhash.New()
	writeField(d, a.ID)
	writeField(d, a.Name)
	writeField(d, a.StartDateLocal)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(a.ElapsedTime))
	d.Write(buf[:])

	if a.Distance != nil {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(*a.Distance))
		d.Write(buf[:])
	}

	return fmt.Sprintf("%016x", d.Sum64())
}

// writeField hashes a length-prefixed string so adjacent fields cannot
// collide by shifting bytes between them.
func writeField(d *xxhash.Digest, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	d.Write(n[:])
	d.WriteString(s)
}
