package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sondetrack/config"
	"sondetrack/decode"
	"sondetrack/scan"
	"sondetrack/search"
	"sondetrack/telemetry"
)

func TestMHzToHz(t *testing.T) {
	cases := []struct {
		mhz  float64
		want int64
	}{
		{402.5, 402500000},
		{400.0001, 400000100},
		{403.5, 403500000},
	}
	for _, tc := range cases {
		if got := mhzToHz(tc.mhz); got != tc.want {
			t.Errorf("mhzToHz(%v) = %d, want %d", tc.mhz, got, tc.want)
		}
	}
}

func TestSearchConfigConversion(t *testing.T) {
	cfg := config.Default()
	tuner := scan.TunerParams{PPM: 1, Gain: "automatic"}

	sc := searchConfig(cfg, tuner)

	if sc.MinFreqHz != 400400000 || sc.MaxFreqHz != 403500000 {
		t.Errorf("band = %d-%d Hz", sc.MinFreqHz, sc.MaxFreqHz)
	}
	if sc.Dwell != 20*time.Second {
		t.Errorf("dwell = %v", sc.Dwell)
	}
	if sc.QuantizationHz != 5000 {
		t.Errorf("quantization = %v", sc.QuantizationHz)
	}
	if sc.Tuner != tuner {
		t.Errorf("tuner params not carried through")
	}
}

func TestBuildLocalSinksRespectsConfig(t *testing.T) {
	cfg := config.Default()
	if got := buildLocalSinks(cfg); len(got) != 0 {
		t.Fatalf("no local sinks expected when disabled, got %d", len(got))
	}

	cfg.Ozi.Enabled = true
	cfg.Ozi.PayloadSummaryEnabled = true
	got := buildLocalSinks(cfg)
	if len(got) != 2 {
		t.Fatalf("sink count = %d, want 2", len(got))
	}
	if got[0].Name() != "oziplotter" || got[1].Name() != "payload-summary" {
		t.Errorf("sink names = %s, %s", got[0].Name(), got[1].Name())
	}
}

func TestWriteFlightSummaryAppends(t *testing.T) {
	stats := &telemetry.Stats{}
	base := time.Date(2017, 4, 30, 5, 44, 40, 0, time.UTC)
	stats.Observe(&telemetry.Record{ID: "M3553150", Frame: 1, Time: base, Alt: 100, VelV: 4.8})
	stats.Observe(&telemetry.Record{ID: "M3553150", Frame: 2, Time: base.Add(time.Minute), Alt: 400, VelV: 5.1})

	path := filepath.Join(t.TempDir(), "last_positions.txt")
	writeFlightSummary(stats, path)
	writeFlightSummary(stats, path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary file: %v", err)
	}
	if !strings.Contains(string(data), "M3553150") {
		t.Fatalf("summary content %q", data)
	}
	if got := strings.Count(string(data), "M3553150"); got < 2 {
		t.Fatalf("expected appended second summary, occurrences = %d", got)
	}
}

// quietBandScanner returns a flat capture with no peaks, counting passes.
type quietBandScanner struct {
	scans atomic.Int64
}

func (s *quietBandScanner) Scan(ctx context.Context, startHz, stopHz int64, stepHz int, dwell time.Duration, params scan.TunerParams) (*scan.Result, error) {
	s.scans.Add(1)
	return &scan.Result{
		Freqs:  []float64{400000000, 400000800, 400001600, 400002400},
		Power:  []float64{-90, -90, -90, -90},
		StepHz: 800,
	}, nil
}

type neverVerifier struct{}

func (neverVerifier) Detect(ctx context.Context, frequencyHz int64) (telemetry.SondeType, bool) {
	return "", false
}

// A band with nothing on it must not end the run: an exhausted search pass
// rests and scans again until the overall deadline expires.
func TestRunSessionsKeepsScanningQuietBand(t *testing.T) {
	oldCooldown := sessionCooldown
	sessionCooldown = 5 * time.Millisecond
	defer func() { sessionCooldown = oldCooldown }()

	scanner := &quietBandScanner{}
	searcher := search.New(search.Config{
		MinFreqHz:      400000000,
		MaxFreqHz:      400100000,
		StepHz:         800,
		MinSNRdB:       10,
		MinDistanceHz:  1000,
		QuantizationHz: 5000,
		Attempts:       1,
	}, scanner, neverVerifier{})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runSessions(ctx, 0, searcher, scan.NewDetector(scan.TunerParams{}),
			decode.NewSupervisor(decode.Config{LivenessTimeout: time.Second}, decode.NewAuxResolver(t.TempDir()), nil))
	}()

	select {
	case <-done:
		if ctx.Err() == nil {
			t.Fatal("runSessions returned before the deadline expired")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runSessions did not return after the deadline expired")
	}

	if got := scanner.scans.Load(); got < 2 {
		t.Fatalf("scan passes = %d, want repeated passes after search exhaustion", got)
	}
}

func TestWriteFlightSummaryNoData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_positions.txt")
	writeFlightSummary(&telemetry.Stats{}, path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("no file expected when no telemetry was observed")
	}
}
