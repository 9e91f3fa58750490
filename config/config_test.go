package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "station.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
sdr:
  ppm: 22
aprs:
  enabled: true
  user: N0CALL
  pass: "12345"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SDR.PPM != 22 {
		t.Errorf("expected ppm 22, got %d", cfg.SDR.PPM)
	}
	if cfg.Search.MinFreqMHz != 400.4 || cfg.Search.MaxFreqMHz != 403.5 {
		t.Errorf("expected default band, got %.3f-%.3f", cfg.Search.MinFreqMHz, cfg.Search.MaxFreqMHz)
	}
	if cfg.Search.QuantizationHz != 5000 {
		t.Errorf("expected default quantization 5000, got %d", cfg.Search.QuantizationHz)
	}
	if cfg.Decode.RXTimeoutSeconds != 120 {
		t.Errorf("expected default rx_timeout 120, got %d", cfg.Decode.RXTimeoutSeconds)
	}
	if cfg.LoadedFrom != path {
		t.Errorf("expected LoadedFrom %q, got %q", path, cfg.LoadedFrom)
	}
}

func TestLoadRejectsInvertedBand(t *testing.T) {
	path := writeConfig(t, `
search:
  min_freq: 403.5
  max_freq: 400.4
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for inverted frequency band")
	}
}

func TestLoadRejectsAPRSWithoutUser(t *testing.T) {
	path := writeConfig(t, `
aprs:
  enabled: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for enabled APRS without user")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestNormalizedGain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "automatic"},
		{"0", "automatic"},
		{"automatic", "automatic"},
		{"not-a-number", "automatic"},
		{"49.6", "49.6"},
		{" 22 ", "22"},
	}
	for _, tc := range cases {
		s := SDRConfig{Gain: tc.in}
		if got := s.NormalizedGain(); got != tc.want {
			t.Errorf("NormalizedGain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
