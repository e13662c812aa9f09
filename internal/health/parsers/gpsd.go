package parsers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/rileyhilliard/ntpwatch/internal/health"
)

// ClassTPV is the gpsd record class carrying time/position/velocity and fix mode.
const ClassTPV = "TPV"

// tpvRecord is the subset of a gpsd JSON report we care about. Values are
// decoded loosely so one oddly typed field doesn't cost the whole record.
type tpvRecord struct {
	Class string `json:"class"`
	Mode  any    `json:"mode"`
	Time  any    `json:"time"`
	Lat   any    `json:"lat"`
	Lon   any    `json:"lon"`
}

// mode returns the fix mode when it is a whole number.
func (r tpvRecord) mode() *int {
	f, ok := r.Mode.(float64)
	if !ok || f != float64(int(f)) {
		return nil
	}
	m := int(f)
	return &m
}

func (r tpvRecord) timestamp() string {
	switch v := r.Time.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func number(v any) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

// fixTracker accumulates fix reports; the last mode seen wins.
type fixTracker struct {
	status health.FixStatus
	time   string
	lat    *float64
	lon    *float64
}

func (t *fixTracker) report(mode *int, ts string, lat, lon *float64) {
	t.status.TPVMessageCount++
	if mode != nil {
		m := *mode
		t.status.LastMode = &m
		t.status.HasFix = m >= health.Mode2D
	}
	// gpsd reports zero coordinates before a fix; keep the last real ones.
	var la, lo float64
	if lat != nil {
		la = *lat
	}
	if lon != nil {
		lo = *lon
	}
	t.position(ts, la, lo)
}

// finish builds the summary line. With no mode seen the summary stays empty,
// which callers treat as "no fix data received".
func (t *fixTracker) finish(prefix string) health.FixStatus {
	if t.status.LastMode == nil {
		t.status.HasFix = false
		t.status.Summary = ""
		return t.status
	}

	parts := []string{"mode=" + health.ModeName(*t.status.LastMode)}
	if t.time != "" {
		parts = append(parts, "time="+t.time)
	}
	if t.lat != nil && t.lon != nil {
		parts = append(parts, fmt.Sprintf("pos=(%s,%s)", formatCoord(*t.lat), formatCoord(*t.lon)))
	}
	t.status.Summary = prefix + strings.Join(parts, " | ")
	return t.status
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ParseFixStream consumes `gpspipe -w` output: newline-delimited gpsd JSON
// reports interleaved with diagnostic noise. Lines that are not JSON objects
// are skipped, and only TPV records contribute.
func ParseFixStream(text string) health.FixStatus {
	tracker := &fixTracker{}

	for _, raw := range lines(text) {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var rec tpvRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Class != ClassTPV {
			continue
		}

		tracker.report(rec.mode(), rec.timestamp(), number(rec.Lat), number(rec.Lon))
	}

	return tracker.finish("GPS(TPV): ")
}

// ParseNMEAStream consumes `gpspipe -r` output: raw NMEA 0183 sentences.
// GSA sentences are the fix reports (fix type 1/2/3); RMC and GGA supply time
// and position. Sentences that fail to decode are skipped.
func ParseNMEAStream(text string) health.FixStatus {
	tracker := &fixTracker{}

	for _, raw := range lines(text) {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "$") {
			continue
		}

		sentence, err := nmea.Parse(line)
		if err != nil {
			continue
		}

		switch sentence.DataType() {
		case nmea.TypeGSA:
			gsa := sentence.(nmea.GSA)
			var mode *int
			if m, err := strconv.Atoi(gsa.FixType); err == nil {
				mode = &m
			}
			tracker.report(mode, "", nil, nil)
		case nmea.TypeRMC:
			rmc := sentence.(nmea.RMC)
			if rmc.Validity != nmea.ValidRMC {
				continue
			}
			tracker.position(nmeaTimestamp(rmc.Date, rmc.Time), rmc.Latitude, rmc.Longitude)
		case nmea.TypeGGA:
			gga := sentence.(nmea.GGA)
			if gga.FixQuality == nmea.Invalid {
				continue
			}
			tracker.position(nmeaTimestamp(nmea.Date{}, gga.Time), gga.Latitude, gga.Longitude)
		}
	}

	return tracker.finish("GPS(NMEA): ")
}

// position records time and coordinates without counting a fix report.
func (t *fixTracker) position(ts string, lat, lon float64) {
	if ts != "" {
		t.time = ts
	}
	if lat != 0 {
		t.lat = &lat
	}
	if lon != 0 {
		t.lon = &lon
	}
}

func nmeaTimestamp(d nmea.Date, tm nmea.Time) string {
	if !tm.Valid {
		return ""
	}
	clock := fmt.Sprintf("%02d:%02d:%02d", tm.Hour, tm.Minute, tm.Second)
	if !d.Valid {
		return clock
	}
	return fmt.Sprintf("20%02d-%02d-%02dT%sZ", d.YY, d.MM, d.DD, clock)
}
