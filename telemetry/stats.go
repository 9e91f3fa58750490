package telemetry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ErrNoData is returned by Summary when no telemetry was ever observed.
var ErrNoData = errors.New("no telemetry frames observed")

// AscentRateUnknown is the sentinel ascent rate reported when the flight was
// only acquired during descent (first frame is also the apogee frame).
const AscentRateUnknown = -1.0

// Stats folds the telemetry stream into first/apogee/last snapshots.
//
// Stats deliberately persist across decode sessions within one run: a station
// run normally tracks a single flight, and a mid-flight decoder restart (new
// session on the same or a re-acquired sonde) must not lose the apogee seen
// so far. Only the control loop writes, and the summary is read at shutdown,
// so no locking is needed.
type Stats struct {
	first  *Record
	apogee *Record
	last   *Record
}

// Observe records one telemetry frame. The first frame seeds all three
// slots; afterwards apogee tracks the maximum altitude seen and last is
// overwritten by every frame.
func (s *Stats) Observe(rec *Record) {
	if rec == nil {
		return
	}
	s.last = rec
	if s.first == nil {
		s.first = rec
		s.apogee = rec
	}
	if rec.Alt > s.apogee.Alt {
		s.apogee = rec
	}
}

// Empty reports whether no frame has been observed yet.
func (s *Stats) Empty() bool {
	return s.last == nil
}

// AscentRate returns the average ascent rate in m/s between acquisition and
// apogee, or AscentRateUnknown when the flight was only seen descending.
func (s *Stats) AscentRate() float64 {
	if s.first == nil || s.apogee == nil || s.first == s.apogee {
		return AscentRateUnknown
	}
	seconds := s.apogee.Time.Sub(s.first.Time).Seconds()
	if seconds <= 0 {
		return AscentRateUnknown
	}
	return (s.apogee.Alt - s.first.Alt) / seconds
}

// Summary produces the human-readable flight report appended to the
// positions file at shutdown.
func (s *Stats) Summary() (string, error) {
	if s.last == nil {
		return "", ErrNoData
	}

	// Descent rate is the last observed vertical velocity, taken verbatim.
	descentRate := s.last.VelV

	var b strings.Builder
	fmt.Fprintf(&b, "Acquired %s at %s on %s, at %s m altitude.\n",
		s.first.Type, s.first.Time.Format("2006-01-02T15:04:05.000"), s.first.FreqMHz(),
		humanize.Comma(int64(s.first.Alt)))
	fmt.Fprintf(&b, "Ascent Rate: %.1f m/s, Peak Altitude: %s m, Descent Rate: %.1f m/s\n",
		s.AscentRate(), humanize.Comma(int64(s.apogee.Alt)), descentRate)
	fmt.Fprintf(&b, "Last Position: %.5f, %.5f, %s m alt, at %s\n",
		s.last.Lat, s.last.Lon, humanize.Comma(int64(s.last.Alt)),
		s.last.Time.Format("2006-01-02T15:04:05.000"))
	fmt.Fprintf(&b, "Flight Path: https://aprs.fi/#!call=%s&timerange=10800&tail=10800\n",
		s.last.ID)
	return b.String(), nil
}
