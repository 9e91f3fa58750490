package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"time"

	"sondetrack/telemetry"
)

// DefaultProbeTimeout bounds one receive-and-classify probe.
const DefaultProbeTimeout = 10 * time.Second

// Detector runs the short receive-and-classify pipeline against one
// candidate frequency. Classification is carried in the probe's exit status.
type Detector struct {
	Params  TunerParams
	Timeout time.Duration

	// run executes the probe pipeline and returns its exit status;
	// swapped out by tests.
	run func(ctx context.Context, script string) int
}

// NewDetector creates a Detector with the default probe timeout.
func NewDetector(params TunerParams) *Detector {
	return &Detector{
		Params:  params,
		Timeout: DefaultProbeTimeout,
		run:     runProbe,
	}
}

// Exit statuses rs_detect reports per recognized protocol. Anything else,
// including the timeout status, means nothing was heard.
const (
	exitRS41 = 3
	exitRS92 = 4
)

// Detect probes frequencyHz and reports the detected sonde type. The probe
// pipeline is bounded by the configured timeout; the timeout(1) wrapper in
// the pipeline enforces teardown even if this process dies mid-probe.
func (d *Detector) Detect(ctx context.Context, frequencyHz int64) (telemetry.SondeType, bool) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	script := fmt.Sprintf(
		"timeout %ds rtl_fm %s-p %d -M fm -s 15k -f %d 2>/dev/null | "+
			"sox -t raw -r 15k -e s -b 16 -c 1 - -r 48000 -t wav - highpass 20 2>/dev/null | "+
			"rs_detect -z -t 8 2>/dev/null",
		int(timeout.Seconds()), d.Params.InlineFlags(), d.Params.PPM, frequencyHz)

	log.Printf("Detect: probing %.3f MHz", float64(frequencyHz)/1e6)

	// Allow a little slack past the in-pipeline timeout before the probe
	// is forcibly torn down from this side.
	runCtx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()

	switch d.run(runCtx, script) {
	case exitRS41:
		log.Printf("Detect: RS41 on %.3f MHz", float64(frequencyHz)/1e6)
		return telemetry.TypeRS41, true
	case exitRS92:
		log.Printf("Detect: RS92 on %.3f MHz", float64(frequencyHz)/1e6)
		return telemetry.TypeRS92, true
	default:
		return "", false
	}
}

func runProbe(ctx context.Context, script string) int {
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	err := cmd.Run()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	// Start failure (script shell missing etc.) classifies as nothing heard.
	return -1
}
