// Package aprs uploads sonde positions to an APRS-IS server as APRS objects.
package aprs

import (
	"fmt"
	"math"
	"strings"

	"sondetrack/telemetry"
)

// metersToFeet converts the altitude for the /A= extension, which APRS
// insists on in feet.
const metersToFeet = 3.2808399

// EncodeObject renders an APRS object report for one telemetry record:
// source callsign, object name (padded or truncated to the protocol's fixed
// 9 character field), a ddhhmmz timestamp, position with the balloon symbol
// and the altitude extension.
func EncodeObject(srcCall, objectName string, rec *telemetry.Record, comment string) string {
	name := objectName
	if name == "" {
		name = rec.ID
	}
	if len(name) > 9 {
		name = name[:9]
	}
	name = name + strings.Repeat(" ", 9-len(name))

	timestamp := rec.Time.UTC().Format("021504") // day, hour, minute

	return fmt.Sprintf("%s>APRS,TCPIP*:;%s*%sz%s/%sO000/000/A=%06d %s",
		srcCall, name, timestamp,
		encodeLatitude(rec.Lat), encodeLongitude(rec.Lon),
		int(rec.Alt*metersToFeet), comment)
}

// encodeLatitude renders degrees as the APRS ddmm.mmH form.
func encodeLatitude(lat float64) string {
	hemisphere := "N"
	if lat < 0 {
		hemisphere = "S"
		lat = -lat
	}
	degrees := math.Floor(lat)
	minutes := (lat - degrees) * 60
	return fmt.Sprintf("%02d%05.2f%s", int(degrees), minutes, hemisphere)
}

// encodeLongitude renders degrees as the APRS dddmm.mmH form.
func encodeLongitude(lon float64) string {
	hemisphere := "E"
	if lon < 0 {
		hemisphere = "W"
		lon = -lon
	}
	degrees := math.Floor(lon)
	minutes := (lon - degrees) * 60
	return fmt.Sprintf("%03d%05.2f%s", int(degrees), minutes, hemisphere)
}

// RenderComment substitutes the station's comment template placeholders with
// values from the record.
func RenderComment(template string, rec *telemetry.Record) string {
	r := strings.NewReplacer(
		"<freq>", rec.FreqMHz(),
		"<id>", rec.ID,
		"<vel_v>", fmt.Sprintf("%.1fm/s", rec.VelV),
		"<type>", string(rec.Type),
	)
	return r.Replace(template)
}
