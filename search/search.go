// Package search runs the scan → extract peaks → verify loop until a sonde
// is found or the configured attempts are exhausted.
package search

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"sondetrack/scan"
	"sondetrack/telemetry"
)

// Scanner is the wideband capture contract consumed by the searcher.
type Scanner interface {
	Scan(ctx context.Context, startHz, stopHz int64, stepHz int, dwell time.Duration, params scan.TunerParams) (*scan.Result, error)
}

// Verifier classifies a single candidate frequency.
type Verifier interface {
	Detect(ctx context.Context, frequencyHz int64) (telemetry.SondeType, bool)
}

// PeakFinder extracts peak indices from a power series; consumed as a black
// box so the searcher does not care how peaks are picked.
type PeakFinder func(power []float64, minHeight float64, minDistance int) []int

// Config parametrizes one search run.
type Config struct {
	MinFreqHz      int64
	MaxFreqHz      int64
	StepHz         int
	Dwell          time.Duration
	MinSNRdB       float64
	MinDistanceHz  float64
	QuantizationHz float64
	Attempts       int
	Delay          time.Duration
	Tuner          scan.TunerParams
}

// Result is the outcome of a successful search pass.
type Result struct {
	FrequencyHz int64
	Type        telemetry.SondeType
}

// Searcher drives scan attempts against the configured band.
type Searcher struct {
	cfg       Config
	scanner   Scanner
	verifier  Verifier
	findPeaks PeakFinder

	// resetHardware revives a locked-up SDR between failed scans;
	// swapped out by tests.
	resetHardware func()
	// sleep waits between attempts while honoring cancellation.
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a Searcher using the given scanner and verifier.
func New(cfg Config, scanner Scanner, verifier Verifier) *Searcher {
	return &Searcher{
		cfg:           cfg,
		scanner:       scanner,
		verifier:      verifier,
		findPeaks:     scan.FindPeaks,
		resetHardware: scan.ResetSDRs,
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Run performs up to cfg.Attempts scan passes and returns the first verified
// sonde. The second return value is false when every attempt came up empty.
//
// One attempt: scan the band; on capture failure reset the SDR, back off and
// retry (a missing capture usually means the tuner locked up and the capture
// tool had to be killed). On success, threshold peaks above the noise floor,
// sort them strongest-first, quantize to the candidate bin size and verify
// each candidate until one classifies. Strongest-signal-first keeps the
// expected number of probes low when spurious peaks outnumber real sondes.
func (s *Searcher) Run(ctx context.Context) (Result, bool) {
	remaining := s.cfg.Attempts

	for remaining > 0 && ctx.Err() == nil {
		result, err := s.scanner.Scan(ctx, s.cfg.MinFreqHz, s.cfg.MaxFreqHz, s.cfg.StepHz, s.cfg.Dwell, s.cfg.Tuner)
		if err != nil {
			if errors.Is(err, scan.ErrScanFailed) || errors.Is(err, scan.ErrCorruptCapture) {
				log.Printf("Search: %v; resetting SDR and retrying", err)
				s.resetHardware()
			} else {
				log.Printf("Search: scan error: %v", err)
			}
			remaining--
			s.sleep(ctx, s.cfg.Delay)
			continue
		}

		candidates := s.extractCandidates(result)
		if len(candidates) == 0 {
			log.Printf("Search: no peaks found on this pass, %d attempts remaining", remaining-1)
			remaining--
			s.sleep(ctx, s.cfg.Delay)
			continue
		}

		for _, freq := range candidates {
			if sondeType, ok := s.verifier.Detect(ctx, freq); ok {
				return Result{FrequencyHz: freq, Type: sondeType}, true
			}
		}

		remaining--
		log.Printf("Search: no sonde on %d candidate(s), %d attempts remaining, waiting %s",
			len(candidates), remaining, s.cfg.Delay)
		s.sleep(ctx, s.cfg.Delay)
	}

	log.Printf("Search: no sondes detected")
	return Result{}, false
}

// extractCandidates turns a capture into a deduplicated candidate frequency
// list ordered by descending peak power.
func (s *Searcher) extractCandidates(result *scan.Result) []int64 {
	noiseFloor := scan.NoiseFloor(result.Power)
	minDistance := int(s.cfg.MinDistanceHz / result.StepHz)

	peaks := s.findPeaks(result.Power, noiseFloor+s.cfg.MinSNRdB, minDistance)
	if len(peaks) == 0 {
		return nil
	}

	sort.Slice(peaks, func(a, b int) bool {
		return result.Power[peaks[a]] > result.Power[peaks[b]]
	})

	quantized := scan.Quantize(peakFreqs(result, peaks), s.cfg.QuantizationHz)

	// Nearby peaks quantize onto the same bin; keep the first (strongest)
	// occurrence of each.
	seen := make(map[int64]bool, len(quantized))
	candidates := make([]int64, 0, len(quantized))
	for _, f := range quantized {
		hz := int64(f)
		if seen[hz] {
			continue
		}
		seen[hz] = true
		candidates = append(candidates, hz)
	}

	log.Printf("Search: %d candidate(s): %v", len(candidates), candidatesMHz(candidates))
	return candidates
}

func peakFreqs(result *scan.Result, peaks []int) []float64 {
	freqs := make([]float64, len(peaks))
	for i, idx := range peaks {
		freqs[i] = result.Freqs[idx]
	}
	return freqs
}

func candidatesMHz(candidates []int64) []float64 {
	mhz := make([]float64, len(candidates))
	for i, hz := range candidates {
		mhz[i] = float64(hz) / 1e6
	}
	return mhz
}
