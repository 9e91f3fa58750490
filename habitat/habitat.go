// Package habitat uploads telemetry to a Habitat-style aggregation service.
// Each record is rendered as a UKHAS sentence, wrapped in a payload telemetry
// document and PUT to the service; the sink also supports a one-shot
// listener position upload at startup.
package habitat

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"sondetrack/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client uploads to one Habitat instance.
type Client struct {
	BaseURL          string
	PayloadCallsign  string // callsign used in the telemetry sentence; empty uses the sonde id
	UploaderCallsign string

	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a Habitat upload client.
func NewClient(baseURL, payloadCallsign, uploaderCallsign string) *Client {
	return &Client{
		BaseURL:          baseURL,
		PayloadCallsign:  payloadCallsign,
		UploaderCallsign: uploaderCallsign,
		httpClient:       &http.Client{Timeout: 20 * time.Second},
		now:              time.Now,
	}
}

// Name identifies the sink in worker logs.
func (c *Client) Name() string { return "habitat" }

// Sentence renders the UKHAS telemetry sentence for a record, including the
// CRC16-CCITT checksum over the payload between the $$ marker and the *.
func (c *Client) Sentence(rec *telemetry.Record) string {
	callsign := c.PayloadCallsign
	if callsign == "" {
		callsign = rec.ID
	}
	payload := fmt.Sprintf("%s,%d,%s,%.5f,%.5f,%d",
		callsign, rec.Frame, rec.ShortTime, rec.Lat, rec.Lon, int(rec.Alt))
	return fmt.Sprintf("$$%s*%04X", payload, crc16CCITT([]byte(payload)))
}

// Push uploads one record as payload telemetry. The document id is the
// SHA-256 of the base64 sentence, matching the service's add_listener
// update handler contract.
func (c *Client) Push(rec *telemetry.Record) error {
	sentence := c.Sentence(rec) + "\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(sentence))
	now := c.now().UTC().Format(time.RFC3339)

	doc := map[string]interface{}{
		"data": map[string]interface{}{
			"_raw": encoded,
		},
		"receivers": map[string]interface{}{
			c.UploaderCallsign: map[string]interface{}{
				"time_created":  now,
				"time_uploaded": now,
			},
		},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("habitat document: %w", err)
	}

	docID := sha256Hex(encoded)
	url := fmt.Sprintf("%s/habitat/_design/payload_telemetry/_update/add_listener/%s", c.BaseURL, docID)

	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("habitat upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("habitat upload: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// UploadListenerPosition announces the receive station itself on the map.
// Called once at startup; failure is logged by the caller and ignored, a
// missing listener pin is cosmetic.
func (c *Client) UploadListenerPosition(lat, lon float64) error {
	now := c.now().UTC()
	doc := map[string]interface{}{
		"type":         "listener_telemetry",
		"time_created": now.Format(time.RFC3339),
		"data": map[string]interface{}{
			"callsign":  c.UploaderCallsign,
			"chase":     false,
			"latitude":  lat,
			"longitude": lon,
			"altitude":  0,
		},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Post(c.BaseURL+"/habitat/", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("listener position upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("listener position upload: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// crc16CCITT computes CRC16-CCITT (poly 0x1021, init 0xFFFF), the checksum
// the UKHAS sentence format specifies.
func crc16CCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
