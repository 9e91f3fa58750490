// Package scan drives the RTL-SDR against the radiosonde band: wideband
// power capture via rtl_power, capture log parsing, frequency quantization,
// peak extraction and the short receive-and-classify probe that verifies a
// candidate frequency.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"time"
)

// Errors in the scan failure taxonomy. Both are transient hardware faults
// from the search loop's point of view: it resets the SDR and retries.
var (
	// ErrScanFailed covers rtl_power exiting non-zero or never producing
	// a capture file, typically a locked-up tuner.
	ErrScanFailed = errors.New("power capture failed")
	// ErrCorruptCapture covers capture files with malformed rows.
	ErrCorruptCapture = errors.New("corrupt power capture")
)

// killGrace is how long past the dwell time rtl_power may run before the
// process is killed. A healthy capture finishes within the dwell; anything
// later means the tuner has locked up.
const killGrace = 10 * time.Second

// TunerParams carries the RTL-SDR settings shared by capture, probe and
// decode invocations.
type TunerParams struct {
	PPM  int    // Frequency correction in parts-per-million
	Gain string // Tuner gain in dB, or "automatic"
	Bias bool   // Enable bias tee supply for external LNAs
}

// biasFlag renders the optional bias tee flag for the rtl_* tools.
func (p TunerParams) biasFlag() []string {
	if p.Bias {
		return []string{"-T"}
	}
	return nil
}

// gainFlag renders the optional manual gain flag. Automatic gain control is
// the rtl_* default and needs no flag.
func (p TunerParams) gainFlag() []string {
	if p.Gain == "" || p.Gain == "automatic" {
		return nil
	}
	return []string{"-g", p.Gain}
}

// InlineFlags renders bias and gain for inline use in shell pipelines,
// including the trailing space when non-empty.
func (p TunerParams) InlineFlags() string {
	var s string
	if p.Bias {
		s += "-T "
	}
	if flags := p.gainFlag(); flags != nil {
		s += flags[0] + " " + flags[1] + " "
	}
	return s
}

// Result is one parsed wideband capture: parallel frequency/power series
// spanning the requested range, plus the bin width rtl_power actually used.
type Result struct {
	Freqs  []float64 // Hz
	Power  []float64 // dB, NaN-sanitized
	StepHz float64
}

// Scanner invokes rtl_power and parses its capture log.
type Scanner struct {
	// CapturePath is where rtl_power writes its log. Kept stable across
	// scans so a stuck capture from a previous pass is overwritten.
	CapturePath string

	// run executes the capture tool; swapped out by tests.
	run func(ctx context.Context, name string, args ...string) error
}

// NewScanner creates a Scanner writing its capture log at path.
func NewScanner(path string) *Scanner {
	return &Scanner{
		CapturePath: path,
		run:         runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Scan performs one single-shot wideband power capture from startHz to
// stopHz and returns the parsed series. The external tool is bounded by the
// dwell time plus a fixed grace period, after which it is killed.
func (s *Scanner) Scan(ctx context.Context, startHz, stopHz int64, stepHz int, dwell time.Duration, params TunerParams) (*Result, error) {
	// Stale captures must not be mistaken for this pass's output.
	_ = os.Remove(s.CapturePath)

	args := append([]string{}, params.biasFlag()...)
	args = append(args, params.gainFlag()...)
	args = append(args,
		"-f", fmt.Sprintf("%d:%d:%d", startHz, stopHz, stepHz),
		"-i", fmt.Sprintf("%d", int(dwell.Seconds())),
		"-1",
		"-c", "20%",
		"-p", fmt.Sprintf("%d", params.PPM),
		s.CapturePath,
	)

	runCtx, cancel := context.WithTimeout(ctx, dwell+killGrace)
	defer cancel()

	log.Printf("Scan: running frequency scan %d-%d Hz, step %d Hz, dwell %s",
		startHz, stopHz, stepHz, dwell)
	if err := s.run(runCtx, "rtl_power", args...); err != nil {
		return nil, fmt.Errorf("%w: rtl_power: %v", ErrScanFailed, err)
	}

	f, err := os.Open(s.CapturePath)
	if err != nil {
		return nil, fmt.Errorf("%w: no capture file: %v", ErrScanFailed, err)
	}
	defer f.Close()

	result, err := parseCapture(f)
	if err != nil {
		return nil, err
	}
	if result.StepHz == 0 || len(result.Freqs) == 0 {
		return nil, fmt.Errorf("%w: empty capture", ErrCorruptCapture)
	}
	return result, nil
}

// Quantize rounds each frequency to the nearest multiple of binHz. Nearby
// peaks collapse onto the same bin, de-duplicating them into one candidate.
func Quantize(freqs []float64, binHz float64) []float64 {
	out := make([]float64, len(freqs))
	for i, f := range freqs {
		out[i] = math.Round(f/binHz) * binHz
	}
	return out
}
