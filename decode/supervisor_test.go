package decode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sondetrack/scan"
	"sondetrack/telemetry"
)

const testLine = `{"id":"M3553150","frame":%d,"datetime":"2017-04-30T05:44:40.460Z","lat":-34.72471,"lon":138.69178,"alt":263.83,"vel_v":-5.2}`

func noAux(t *testing.T) *AuxResolver {
	t.Helper()
	return NewAuxResolver(t.TempDir())
}

// A decoder that emits a few frames and then goes silent must be torn down
// by the liveness timeout, with exactly one terminate signal to its group.
func TestSupervisorLivenessTimeoutTerminatesOnce(t *testing.T) {
	var mu sync.Mutex
	var got []*telemetry.Record
	var terminates atomic.Int32

	s := NewSupervisor(Config{LivenessTimeout: 300 * time.Millisecond}, noAux(t), func(rec *telemetry.Record) {
		mu.Lock()
		got = append(got, rec)
		mu.Unlock()
	})
	s.buildScript = func(int64, telemetry.SondeType, AuxData, scan.TunerParams) string {
		var b strings.Builder
		for i := 1; i <= 5; i++ {
			b.WriteString("echo '" + strings.Replace(testLine, "%d", strconv.Itoa(i), 1) + "'; ")
		}
		b.WriteString("sleep 30")
		return b.String()
	}
	s.killGroup = func(pgid int) error {
		terminates.Add(1)
		return killProcessGroup(pgid)
	}

	start := time.Now()
	if err := s.Run(context.Background(), 402500000, telemetry.TypeRS41); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed >= 5*time.Second {
		t.Fatalf("session outlived the liveness timeout: %s", elapsed)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("expected 5 records, got %d", len(got))
	}
	if got[0].Frequency != 402500000 || got[0].Type != telemetry.TypeRS41 {
		t.Errorf("records not enriched: %+v", got[0])
	}
	if n := terminates.Load(); n != 1 {
		t.Fatalf("expected exactly one terminate signal, got %d", n)
	}
}

func TestSupervisorReturnsOnEOF(t *testing.T) {
	var count atomic.Int32
	s := NewSupervisor(Config{LivenessTimeout: 10 * time.Second}, noAux(t), func(*telemetry.Record) {
		count.Add(1)
	})
	s.buildScript = func(int64, telemetry.SondeType, AuxData, scan.TunerParams) string {
		return "echo '" + strings.Replace(testLine, "%d", "1", 1) + "'"
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), 402500000, telemetry.TypeRS41) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end on decoder EOF")
	}
	if count.Load() != 1 {
		t.Fatalf("expected 1 record, got %d", count.Load())
	}
}

func TestSupervisorSkipsBadLines(t *testing.T) {
	var count atomic.Int32
	s := NewSupervisor(Config{LivenessTimeout: 10 * time.Second}, noAux(t), func(*telemetry.Record) {
		count.Add(1)
	})
	s.buildScript = func(int64, telemetry.SondeType, AuxData, scan.TunerParams) string {
		return strings.Join([]string{
			"echo 'rs41ecc: frame sync'",
			`echo '{"broken json'`,
			"echo '" + strings.Replace(testLine, "%d", "2", 1) + "'",
		}, "; ")
	}

	if err := s.Run(context.Background(), 402500000, telemetry.TypeRS41); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if count.Load() != 1 {
		t.Fatalf("expected only the valid line to parse, got %d records", count.Load())
	}
}

func TestSupervisorFailsFastWithoutAuxData(t *testing.T) {
	aux := NewAuxResolver(t.TempDir())
	// Point both sources at a dead server so downloads fail quickly.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	aux.EphemerisURL = srv.URL + "/eph"
	aux.AlmanacURL = srv.URL + "/alm"

	started := false
	s := NewSupervisor(Config{LivenessTimeout: time.Second}, aux, nil)
	s.buildScript = func(int64, telemetry.SondeType, AuxData, scan.TunerParams) string {
		started = true
		return "true"
	}

	err := s.Run(context.Background(), 402500000, telemetry.TypeRS92)
	if !errors.Is(err, ErrAuxDataUnavailable) {
		t.Fatalf("expected ErrAuxDataUnavailable, got %v", err)
	}
	if started {
		t.Fatal("decode pipeline must not start without aux data")
	}
}

func TestAuxResolverRS41NeedsNothing(t *testing.T) {
	aux := NewAuxResolver(t.TempDir())
	aux.EphemerisURL = "http://127.0.0.1:1/unreachable"
	aux.AlmanacURL = "http://127.0.0.1:1/unreachable"

	data, err := aux.Resolve(context.Background(), telemetry.TypeRS41)
	if err != nil {
		t.Fatalf("RS41 must not require aux data: %v", err)
	}
	if data.EphemerisPath != "" || data.AlmanacPath != "" {
		t.Fatalf("unexpected aux data for RS41: %+v", data)
	}
}

func TestAuxResolverReusesFreshFile(t *testing.T) {
	dir := t.TempDir()
	aux := NewAuxResolver(dir)
	aux.EphemerisURL = "http://127.0.0.1:1/unreachable"

	path := filepath.Join(dir, "ephemeris.dat")
	if err := os.WriteFile(path, []byte("brdc"), 0644); err != nil {
		t.Fatal(err)
	}

	data, err := aux.Resolve(context.Background(), telemetry.TypeRS92)
	if err != nil {
		t.Fatalf("Resolve should reuse the fresh file: %v", err)
	}
	if data.EphemerisPath != path {
		t.Fatalf("expected reuse of %s, got %+v", path, data)
	}
}

func TestAuxResolverDownloadsEphemeris(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("rinex navigation data"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	aux := NewAuxResolver(dir)
	aux.EphemerisURL = srv.URL + "/brdc.rnx"

	data, err := aux.Resolve(context.Background(), telemetry.TypeRS92)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	body, err := os.ReadFile(data.EphemerisPath)
	if err != nil {
		t.Fatalf("downloaded file unreadable: %v", err)
	}
	if string(body) != "rinex navigation data" {
		t.Fatalf("unexpected file contents: %q", body)
	}
}

func TestDecodeScriptPerType(t *testing.T) {
	rs41 := decodeScript(402500000, telemetry.TypeRS41, AuxData{}, scan.TunerParams{PPM: 22})
	if !strings.HasSuffix(rs41, "rs41ecc --crc --ecc") || !strings.Contains(rs41, "-f 402500000") {
		t.Errorf("unexpected RS41 script: %s", rs41)
	}
	if strings.Contains(rs41, "-T") || strings.Contains(rs41, "--vel") {
		t.Errorf("unexpected RS41 flags: %s", rs41)
	}

	rs92eph := decodeScript(401000000, telemetry.TypeRS92, AuxData{EphemerisPath: "eph.dat"}, scan.TunerParams{Bias: true})
	if !strings.Contains(rs92eph, "rs92ecc -v --crc --ecc --vel -e eph.dat") {
		t.Errorf("unexpected RS92 ephemeris script: %s", rs92eph)
	}
	if !strings.Contains(rs92eph, "rtl_fm -T ") {
		t.Errorf("bias flag missing: %s", rs92eph)
	}

	rs92alm := decodeScript(401000000, telemetry.TypeRS92, AuxData{AlmanacPath: "alm.txt"}, scan.TunerParams{})
	if !strings.Contains(rs92alm, "-a alm.txt") {
		t.Errorf("unexpected RS92 almanac script: %s", rs92alm)
	}
}
