// Package ozi relays positions to mapping software over UDP. Two sinks
// live here: a TELEMETRY sentence sink aimed at a single OziPlotter
// instance, and a JSON payload summary broadcast for anything else on the
// local network that wants live positions.
package ozi

import (
	"fmt"
	"net"

	jsoniter "github.com/json-iterator/go"

	"sondetrack/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sentence renders the OziPlotter waypoint line for a record.
func Sentence(rec *telemetry.Record) string {
	return fmt.Sprintf("TELEMETRY,%s,%.5f,%.5f,%.1f\n",
		rec.ShortTime, rec.Lat, rec.Lon, rec.Alt)
}

// Client sends TELEMETRY sentences to one OziPlotter instance.
type Client struct {
	Addr string // host:port, typically 127.0.0.1:8942
}

// Name identifies the sink in worker logs.
func (c *Client) Name() string { return "oziplotter" }

// Push sends one sentence. A fresh socket per datagram keeps the sink
// stateless; UDP send failures surface as errors for the worker to log.
func (c *Client) Push(rec *telemetry.Record) error {
	conn, err := net.Dial("udp", c.Addr)
	if err != nil {
		return fmt.Errorf("ozi dial %s: %w", c.Addr, err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(Sentence(rec))); err != nil {
		return fmt.Errorf("ozi send: %w", err)
	}
	return nil
}

// summary is the broadcast document. Speed and heading are not derived
// from single fixes, so they carry -1.
type summary struct {
	Type      string  `json:"type"`
	Callsign  string  `json:"callsign"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
	Time      string  `json:"time"`
}

// SummaryBroadcaster sends payload summary JSON datagrams to the LAN
// broadcast address on a fixed port.
type SummaryBroadcaster struct {
	Port int

	// dial is swapped in tests to capture the datagram.
	dial func(network, addr string) (net.Conn, error)
}

// NewSummaryBroadcaster creates a broadcaster for the given UDP port.
func NewSummaryBroadcaster(port int) *SummaryBroadcaster {
	return &SummaryBroadcaster{Port: port, dial: net.Dial}
}

// Name identifies the sink in worker logs.
func (b *SummaryBroadcaster) Name() string { return "payload-summary" }

// Push broadcasts one summary. Hosts without broadcast routes fall back
// to loopback so local consumers still receive data.
func (b *SummaryBroadcaster) Push(rec *telemetry.Record) error {
	doc := summary{
		Type:      "PAYLOAD_SUMMARY",
		Callsign:  rec.ID,
		Latitude:  rec.Lat,
		Longitude: rec.Lon,
		Altitude:  rec.Alt,
		Speed:     -1,
		Heading:   -1,
		Time:      rec.ShortTime,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("payload summary: %w", err)
	}

	conn, err := b.dial("udp", fmt.Sprintf("255.255.255.255:%d", b.Port))
	if err != nil {
		conn, err = b.dial("udp", fmt.Sprintf("127.0.0.1:%d", b.Port))
		if err != nil {
			return fmt.Errorf("payload summary dial: %w", err)
		}
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("payload summary send: %w", err)
	}
	return nil
}
