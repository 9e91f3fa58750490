package telemetry

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireFrame maps the JSON object the rs41ecc/rs92ecc decoders print per frame.
type wireFrame struct {
	ID       string  `json:"id"`
	Frame    int     `json:"frame"`
	Datetime string  `json:"datetime"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Alt      float64 `json:"alt"`
	VelV     float64 `json:"vel_v"`
	VelH     float64 `json:"vel_h"`
	Temp     float64 `json:"temp"`
	Humidity float64 `json:"humidity"`
}

// Parse converts one line of decoder output into a Record. Lines that do not
// start with a JSON object marker are decoder chatter, not telemetry, and
// yield (nil, nil). A malformed telemetry line yields an error; the caller
// logs it and moves on, one bad line never ends a session.
func Parse(line string) (*Record, error) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return nil, nil
	}

	var frame wireFrame
	if err := json.UnmarshalFromString(line, &frame); err != nil {
		return nil, fmt.Errorf("malformed telemetry line: %w", err)
	}
	if frame.ID == "" {
		return nil, fmt.Errorf("telemetry line missing sonde id")
	}
	if frame.Datetime == "" {
		return nil, fmt.Errorf("telemetry line missing datetime")
	}

	ts, shortTime, err := parseFrameTime(frame.Datetime)
	if err != nil {
		return nil, err
	}

	return &Record{
		ID:        frame.ID,
		Frame:     frame.Frame,
		Time:      ts,
		ShortTime: shortTime,
		Lat:       frame.Lat,
		Lon:       frame.Lon,
		Alt:       frame.Alt,
		VelV:      frame.VelV,
		VelH:      frame.VelH,
		Temp:      frame.Temp,
		Humidity:  frame.Humidity,
		// The decoders run with CRC checking forced on and only emit
		// frames that pass, so every parsed record is CRC-clean.
		CRCOK: true,
	}, nil
}

// parseFrameTime normalizes the decoder timestamp. The decoders emit ISO-8601
// with a trailing Z ("2017-04-30T05:44:40.460Z"); the zone marker is stripped
// and the HH:MM:SS sub-field extracted for display and the UDP sentences.
func parseFrameTime(datetime string) (time.Time, string, error) {
	trimmed := strings.TrimSuffix(datetime, "Z")
	ts, err := time.Parse("2006-01-02T15:04:05.999999999", trimmed)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("bad telemetry timestamp %q: %w", datetime, err)
	}
	ts = ts.UTC()

	short := trimmed
	if i := strings.IndexByte(short, 'T'); i >= 0 {
		short = short[i+1:]
	}
	if i := strings.IndexByte(short, '.'); i >= 0 {
		short = short[:i]
	}
	return ts, short, nil
}
