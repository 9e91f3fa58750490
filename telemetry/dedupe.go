package telemetry

import (
	"fmt"
	"time"

	"github.com/zeebo/xxh3"
)

// Deduper suppresses repeated telemetry frames inside a sliding window. The
// decoders occasionally re-emit a frame when signal conditions chatter, and a
// session restart on the same sonde replays recent frames; neither should be
// re-uploaded.
type Deduper struct {
	window time.Duration
	seen   map[uint64]time.Time
}

// NewDeduper creates a deduplicator with the given suppression window. A zero
// or negative window disables deduplication (everything forwards).
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window: window,
		seen:   make(map[uint64]time.Time),
	}
}

// ShouldForward reports whether the frame is new inside the window and
// records it. Frames are keyed by sonde id plus frame counter; the altitude
// is included so a sonde whose frame counter reset mid-flight does not get
// its fresh frames eaten.
func (d *Deduper) ShouldForward(rec *Record, now time.Time) bool {
	if d == nil || d.window <= 0 || rec == nil {
		return true
	}
	key := xxh3.HashString(fmt.Sprintf("%s|%d|%.1f", rec.ID, rec.Frame, rec.Alt))

	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return false
	}
	d.seen[key] = now

	// Opportunistic prune keeps the map bounded over a long flight.
	if len(d.seen) > 4096 {
		for k, at := range d.seen {
			if now.Sub(at) >= d.window {
				delete(d.seen, k)
			}
		}
	}
	return true
}
