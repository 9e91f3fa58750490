package telemetry

import (
	"strings"
	"testing"
	"time"
)

const sampleLine = `{"id":"M3553150","frame":106,"datetime":"2017-04-30T05:44:40.460Z","lat":-34.72471,"lon":138.69178,"alt":263.83,"vel_v":-5.2,"vel_h":12.1}`

func TestParseTelemetryLine(t *testing.T) {
	rec, err := Parse(sampleLine)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record, got nil")
	}
	if rec.ID != "M3553150" {
		t.Errorf("expected id M3553150, got %q", rec.ID)
	}
	if rec.Frame != 106 {
		t.Errorf("expected frame 106, got %d", rec.Frame)
	}
	want := time.Date(2017, 4, 30, 5, 44, 40, 460_000_000, time.UTC)
	if !rec.Time.Equal(want) {
		t.Errorf("expected time %v, got %v", want, rec.Time)
	}
	if rec.ShortTime != "05:44:40" {
		t.Errorf("expected short time 05:44:40, got %q", rec.ShortTime)
	}
	if rec.Lat != -34.72471 || rec.Lon != 138.69178 {
		t.Errorf("unexpected position %.5f,%.5f", rec.Lat, rec.Lon)
	}
	if rec.VelV != -5.2 {
		t.Errorf("expected vel_v -5.2, got %.1f", rec.VelV)
	}
	if !rec.CRCOK {
		t.Error("expected CRCOK to be set for decoder output")
	}
}

func TestParseIgnoresNonTelemetryLines(t *testing.T) {
	for _, line := range []string{
		"",
		"   ",
		"rs41ecc: frame sync",
		"ERROR: lost lock",
		"106,M3553150,2017-04-30,05:44:40.460",
	} {
		rec, err := Parse(line)
		if err != nil {
			t.Errorf("Parse(%q) returned error for non-telemetry line: %v", line, err)
		}
		if rec != nil {
			t.Errorf("Parse(%q) returned a record for non-telemetry line", line)
		}
	}
}

func TestParseRejectsMalformedLines(t *testing.T) {
	for _, line := range []string{
		`{"id":"M3553150","frame":1`,
		`{"frame":1,"datetime":"2017-04-30T05:44:40.460Z","lat":1,"lon":2,"alt":3}`,
		`{"id":"M3553150","frame":1,"lat":1,"lon":2,"alt":3}`,
		`{"id":"M3553150","frame":1,"datetime":"yesterday","lat":1,"lon":2,"alt":3}`,
	} {
		rec, err := Parse(line)
		if err == nil {
			t.Errorf("Parse(%q) should have failed", line)
		}
		if rec != nil {
			t.Errorf("Parse(%q) returned a record alongside an error", line)
		}
	}
}

func TestParseStripsZoneMarker(t *testing.T) {
	rec, err := Parse(strings.Replace(sampleLine, "05:44:40.460Z", "05:44:40.460", 1))
	if err != nil || rec == nil {
		t.Fatalf("Parse without zone marker failed: %v", err)
	}
	if rec.ShortTime != "05:44:40" {
		t.Errorf("expected short time 05:44:40, got %q", rec.ShortTime)
	}
}
