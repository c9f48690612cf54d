package location

import (
	"fmt"
	"math"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// Fix represents a single combined GPS fix suitable for JSON and MQTT.
type Fix struct {
	Time       string  `json:"time"`        // e.g. "12:34:56"
	Date       string  `json:"date"`        // e.g. "06/12/25"
	Latitude   float64 `json:"lat"`         // decimal degrees
	Longitude  float64 `json:"lon"`         // decimal degrees
	SpeedKnots float64 `json:"speed_knots"` // speed over ground
	CourseDeg  float64 `json:"course_deg"`  // course over ground
	Validity   string  `json:"validity"`    // "A" (valid) / "V" (void), etc.
}

// Valid reports whether the receiver flagged the fix as usable.
func (f Fix) Valid() bool {
	return f.Validity == nmea.ValidRMC
}

// DMS formats latitude and longitude as degrees, minutes and seconds,
// e.g. 51° 30' 0.00" N.
func (f Fix) DMS() (lat, lon string) {
	return formatDMS(f.Latitude, "N", "S"), formatDMS(f.Longitude, "E", "W")
}

func formatDMS(decimal float64, positive, negative string) string {
	dir := positive
	if decimal < 0 {
		dir = negative
	}
	abs := math.Abs(decimal)
	deg := int(abs)
	minutesDecimal := (abs - float64(deg)) * 60
	minutes := int(minutesDecimal)
	seconds := (minutesDecimal - float64(minutes)) * 60
	return fmt.Sprintf("%d° %d' %.2f\" %s", deg, minutes, seconds, dir)
}

// ParseSentence converts one NMEA line into a Fix. Only RMC sentences yield a
// fix; anything else, including noise and bad checksums, reports false.
func ParseSentence(line string) (Fix, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false
	}
	if sentence.DataType() != nmea.TypeRMC {
		return Fix{}, false
	}
	m := sentence.(nmea.RMC)
	return Fix{
		Time:       m.Time.String(),
		Date:       m.Date.String(),
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		SpeedKnots: m.Speed,
		CourseDeg:  m.Course,
		Validity:   m.Validity,
	}, true
}
