package telemetry

import (
	"strings"
	"testing"
	"time"
)

func record(frame int, alt, velV float64, at time.Time) *Record {
	return &Record{
		ID:        "M1234567",
		Frame:     frame,
		Time:      at,
		ShortTime: at.Format("15:04:05"),
		Lat:       -34.9,
		Lon:       138.6,
		Alt:       alt,
		VelV:      velV,
		CRCOK:     true,
		Type:      TypeRS41,
		Frequency: 402500000,
	}
}

func TestStatsFirstFrameSeedsAllSlots(t *testing.T) {
	var s Stats
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := record(1, 100, 4.8, t0)
	s.Observe(rec)

	if s.first != rec || s.apogee != rec || s.last != rec {
		t.Fatal("first frame must populate first, apogee and last")
	}
}

// Observing frames in any order ending at the same maximum altitude must
// produce the same apogee.
func TestStatsApogeeOrderIndependent(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	low := record(1, 5000, 4.8, t0)
	mid := record(2, 15000, 4.8, t0.Add(30*time.Minute))
	high := record(3, 28000, 0.1, t0.Add(90*time.Minute))

	var ascending, shuffled Stats
	for _, r := range []*Record{low, mid, high} {
		ascending.Observe(r)
	}
	for _, r := range []*Record{mid, low, high} {
		shuffled.Observe(r)
	}

	if ascending.apogee.Alt != 28000 || shuffled.apogee.Alt != 28000 {
		t.Fatalf("apogee altitude wrong: %v vs %v", ascending.apogee.Alt, shuffled.apogee.Alt)
	}
}

func TestStatsSingleRecordSummary(t *testing.T) {
	var s Stats
	rec := record(42, 12000, -8.5, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.Observe(rec)

	if got := s.AscentRate(); got != AscentRateUnknown {
		t.Errorf("expected ascent rate sentinel %.1f, got %.1f", AscentRateUnknown, got)
	}

	summary, err := s.Summary()
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if !strings.Contains(summary, "Descent Rate: -8.5 m/s") {
		t.Errorf("summary should carry last vel_v verbatim, got:\n%s", summary)
	}
	if !strings.Contains(summary, "aprs.fi/#!call=M1234567") {
		t.Errorf("summary should link the flight path, got:\n%s", summary)
	}
}

func TestStatsAscentRate(t *testing.T) {
	var s Stats
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Observe(record(1, 1000, 5, t0))
	s.Observe(record(2, 2000, 5, t0.Add(200*time.Second)))

	if got := s.AscentRate(); got != 5.0 {
		t.Errorf("expected ascent rate 5.0 m/s, got %.2f", got)
	}
}

func TestStatsSummaryWithoutData(t *testing.T) {
	var s Stats
	if _, err := s.Summary(); err != ErrNoData {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestDeduperSuppressesRepeatedFrames(t *testing.T) {
	d := NewDeduper(2 * time.Minute)
	now := time.Unix(1_700_000_000, 0).UTC()
	rec := record(10, 5000, 4.8, now)

	if !d.ShouldForward(rec, now) {
		t.Fatal("first sighting of a frame must forward")
	}
	if d.ShouldForward(rec, now.Add(10*time.Second)) {
		t.Fatal("repeat inside window must be suppressed")
	}
	if !d.ShouldForward(rec, now.Add(3*time.Minute)) {
		t.Fatal("repeat outside window must forward again")
	}
	if !d.ShouldForward(record(11, 5010, 4.8, now), now) {
		t.Fatal("a different frame must forward")
	}
}

func TestDeduperDisabledWindow(t *testing.T) {
	d := NewDeduper(0)
	now := time.Now()
	rec := record(1, 100, 0, now)
	if !d.ShouldForward(rec, now) || !d.ShouldForward(rec, now) {
		t.Fatal("zero window must forward everything")
	}
}
