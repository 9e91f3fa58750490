// Package telemetry defines the canonical telemetry record produced by the
// external sonde decoders, the line parser that builds it, the flight
// statistics aggregator and a frame deduplicator used in front of the push
// fan-out.
package telemetry

import (
	"fmt"
	"time"
)

// SondeType identifies the radiosonde protocol variant
type SondeType string

const (
	TypeRS41 SondeType = "RS41" // Vaisala RS41, no GPS aux data needed
	TypeRS92 SondeType = "RS92" // Vaisala RS92, requires ephemeris or almanac
)

// Record represents one decoded telemetry frame in canonical form. A record
// is fully populated before it is handed to the aggregator or the push
// queues and is never mutated afterwards; consumers treat it as read-only.
type Record struct {
	ID        string    // Sonde serial (e.g. "M3553150")
	Frame     int       // Monotonic frame counter from the sonde
	Time      time.Time // Frame timestamp (UTC, sub-second precision)
	ShortTime string    // HH:MM:SS portion of the timestamp, for display
	Lat       float64   // Degrees
	Lon       float64   // Degrees
	Alt       float64   // Meters
	VelV      float64   // Vertical velocity, m/s
	VelH      float64   // Horizontal velocity, m/s
	Temp      float64   // Degrees C, zero when the decoder does not report it
	Humidity  float64   // Percent, zero when the decoder does not report it
	CRCOK     bool      // Decoder only emits frames passing CRC

	// Attached after parse, before the record is shared.
	Type      SondeType // Which decoder produced this frame
	Frequency int64     // Receive frequency in Hz
}

// FreqMHz formats the receive frequency the way the uploaders expect it.
func (r *Record) FreqMHz() string {
	return fmt.Sprintf("%.3f MHz", float64(r.Frequency)/1e6)
}
