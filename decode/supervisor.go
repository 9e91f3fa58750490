// Package decode supervises the long-running external decode pipeline for a
// confirmed sonde: it spawns the pipeline as its own process group, consumes
// its output through an asynchronous reader, enforces a liveness timeout and
// tears the whole pipe chain down when the session dies.
package decode

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os/exec"
	"syscall"
	"time"

	"sondetrack/internal/ratelimit"
	"sondetrack/scan"
	"sondetrack/telemetry"
)

// Consumer receives every successfully parsed telemetry record of a session,
// already enriched with frequency and sonde type. Consumers must not block;
// the push queues behind them are non-blocking by construction.
type Consumer func(rec *telemetry.Record)

// Config carries the per-station decode settings.
type Config struct {
	// LivenessTimeout is the maximum silence from the decoder before the
	// session is declared dead. This and stream EOF are the only two ways
	// a session ends.
	LivenessTimeout time.Duration
	Tuner           scan.TunerParams
}

// Supervisor runs decode sessions one at a time.
type Supervisor struct {
	cfg     Config
	aux     *AuxResolver
	consume Consumer

	parseErrs ratelimit.Counter

	// Seams for tests: script construction and process-group signalling.
	buildScript func(frequencyHz int64, sondeType telemetry.SondeType, aux AuxData, p scan.TunerParams) string
	killGroup   func(pgid int) error
}

// NewSupervisor creates a Supervisor delivering parsed records to consume.
func NewSupervisor(cfg Config, aux *AuxResolver, consume Consumer) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		aux:         aux,
		consume:     consume,
		parseErrs:   ratelimit.NewCounter(10 * time.Second),
		buildScript: decodeScript,
		killGroup:   killProcessGroup,
	}
}

// Run executes one decode session against the given frequency and type. It
// returns once the session dies (liveness timeout or decoder EOF) with the
// process group torn down and the reader joined. The only error returned is
// a fail-fast before decode even starts (unobtainable GPS aux data, spawn
// failure); a session that ran and died is a normal nil return.
func (s *Supervisor) Run(ctx context.Context, frequencyHz int64, sondeType telemetry.SondeType) error {
	aux, err := s.aux.Resolve(ctx, sondeType)
	if err != nil {
		return fmt.Errorf("decode %s on %.3f MHz: %w", sondeType, float64(frequencyHz)/1e6, err)
	}

	script := s.buildScript(frequencyHz, sondeType, aux, s.cfg.Tuner)

	// The pipeline runs in its own process group so rtl_fm, sox and the
	// decoder can all be signalled in one shot at teardown.
	cmd := exec.Command("sh", "-c", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decode pipeline stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("decode pipeline start: %w", err)
	}
	pgid := cmd.Process.Pid

	log.Printf("Decode: session started for %s on %.3f MHz", sondeType, float64(frequencyHz)/1e6)

	// The reader goroutine decouples decoder output from this loop: a
	// burst of lines accumulates in the channel even while an upload
	// consumer briefly stalls the loop. Channel close signals EOF.
	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 4096), 256*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	liveness := time.NewTimer(s.cfg.LivenessTimeout)
	defer liveness.Stop()

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				log.Printf("Decode: decoder output ended")
				break loop
			}
			if !liveness.Stop() {
				<-liveness.C
			}
			liveness.Reset(s.cfg.LivenessTimeout)
			s.handleLine(line, frequencyHz, sondeType)
		case <-liveness.C:
			log.Printf("Decode: no telemetry for %s, session timed out", s.cfg.LivenessTimeout)
			break loop
		case <-ctx.Done():
			log.Printf("Decode: session cancelled")
			break loop
		}
	}

	// Teardown: one SIGTERM to the whole group, reap the shell, then join
	// the reader by draining until its channel closes.
	if err := s.killGroup(pgid); err != nil {
		log.Printf("Decode: process group signal failed: %v", err)
	}
	_ = cmd.Wait()
	for range lines {
	}

	log.Printf("Decode: session closed")
	return nil
}

// handleLine parses one decoder line and hands a complete record to the
// consumer. An unparsable line is logged (throttled) and skipped, never
// fatal to the session.
func (s *Supervisor) handleLine(line string, frequencyHz int64, sondeType telemetry.SondeType) {
	rec, err := telemetry.Parse(line)
	if err != nil {
		if total, logit := s.parseErrs.Inc(); logit {
			log.Printf("Decode: could not parse line (%d total): %v (raw: %q)", total, err, line)
		}
		return
	}
	if rec == nil {
		return
	}

	rec.Frequency = frequencyHz
	rec.Type = sondeType

	log.Printf("TELEMETRY: %s,%d,%s,%.5f,%.5f,%.1f,%v",
		rec.ID, rec.Frame, rec.Time.Format("2006-01-02T15:04:05.000Z"), rec.Lat, rec.Lon, rec.Alt, rec.CRCOK)

	if s.consume != nil {
		s.consume(rec)
	}
}

// killProcessGroup sends SIGTERM to the entire process group.
func killProcessGroup(pgid int) error {
	return syscall.Kill(-pgid, syscall.SIGTERM)
}

// decodeScript renders the capture → filter → decode shell pipeline for the
// given sonde type. CRC checking is always on: this telemetry goes straight
// onto maps and uploads, so unchecked frames are worse than no frames.
func decodeScript(frequencyHz int64, sondeType telemetry.SondeType, aux AuxData, p scan.TunerParams) string {
	flags := p.InlineFlags()

	switch sondeType {
	case telemetry.TypeRS92:
		script := fmt.Sprintf(
			"rtl_fm %s-p %d -M fm -s 12k -f %d 2>/dev/null | "+
				"sox -t raw -r 12k -e s -b 16 -c 1 - -r 48000 -b 8 -t wav - lowpass 2500 highpass 20 2>/dev/null | ",
			flags, p.PPM, frequencyHz)
		if aux.EphemerisPath != "" {
			return script + fmt.Sprintf("rs92ecc -v --crc --ecc --vel -e %s", aux.EphemerisPath)
		}
		return script + fmt.Sprintf("rs92ecc -v --crc --ecc --vel -a %s", aux.AlmanacPath)
	default:
		// rs41ecc carries velocities in its frames without an extra flag;
		// only rs92ecc needs --vel.
		return fmt.Sprintf(
			"rtl_fm %s-p %d -M fm -s 15k -f %d 2>/dev/null | "+
				"sox -t raw -r 15k -e s -b 16 -c 1 - -r 48000 -b 8 -t wav - highpass 20 2>/dev/null | "+
				"rs41ecc --crc --ecc",
			flags, p.PPM, frequencyHz)
	}
}
