package scan

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Each capture row starts with six descriptor fields followed by a power
// sample vector: date, time, start freq, stop freq, step, sample count.
const captureHeaderFields = 6

// parseCapture reads a single-shot rtl_power capture log. Every row carries
// a start/stop/step triple and a power vector; rows are concatenated into one
// frequency/power series covering the full scanned range. Row frequencies
// are distributed linearly from start to stop across the row's samples.
func parseCapture(r io.Reader) (*Result, error) {
	result := &Result{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	row := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		row++

		fields := strings.Split(line, ",")
		if len(fields) <= captureHeaderFields {
			return nil, fmt.Errorf("%w: row %d has %d fields", ErrCorruptCapture, row, len(fields))
		}

		startFreq, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d start freq: %v", ErrCorruptCapture, row, err)
		}
		stopFreq, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d stop freq: %v", ErrCorruptCapture, row, err)
		}
		stepHz, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d step: %v", ErrCorruptCapture, row, err)
		}

		samples := fields[captureHeaderFields:]
		n := len(samples)
		for i, raw := range samples {
			p, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d sample %d: %v", ErrCorruptCapture, row, i, err)
			}
			// rtl_power occasionally emits NaN samples; they must
			// never leak into the peak search.
			if math.IsNaN(p) || math.IsInf(p, 0) {
				p = 0
			}

			freq := startFreq
			if n > 1 {
				freq = startFreq + (stopFreq-startFreq)*float64(i)/float64(n-1)
			}
			result.Freqs = append(result.Freqs, freq)
			result.Power = append(result.Power, p)
		}
		result.StepHz = stepHz
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCapture, err)
	}
	return result, nil
}

// NoiseFloor estimates the capture's noise floor as the mean power. Crude,
// but with a band that is mostly empty the mean sits close to the floor.
func NoiseFloor(power []float64) float64 {
	if len(power) == 0 {
		return 0
	}
	var sum float64
	for _, p := range power {
		sum += p
	}
	return sum / float64(len(power))
}
