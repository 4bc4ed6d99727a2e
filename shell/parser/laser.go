package parser

import (
	"regexp"
	"strconv"

	"github.com/opengpon/gpon_collector/models"
)

// laserLookups are the five independent single-line readings reported by
// lasercheck. Each is present or absent on its own; there is no section state.
// All readings are signed decimals.
var laserLookups = []struct {
	key string
	re  *regexp.Regexp
}{
	{"laser_rx_power", regexp.MustCompile(`Rx Optical Power\s+=\s+([-\d.]+)\s+dBm`)},
	{"laser_tx_power", regexp.MustCompile(`Tx Optical Power\s+=\s+([-\d.]+)\s+dBm`)},
	{"laser_bias_current", regexp.MustCompile(`Tx Bias Current\s+=\s+([-\d.]+)\s+mA`)},
	{"laser_voltage", regexp.MustCompile(`Supply voltage\s+=\s+([-\d.]+)\s+V`)},
	{"laser_temperature", regexp.MustCompile(`SFF Temperature\s+=\s+([-\d.]+)\s+C`)},
}

// ParseLaserStats extracts optical-transceiver diagnostics from lasercheck
// output. Readings that are missing or fail numeric conversion are skipped.
func ParseLaserStats(output string) map[string]models.Value {
	data := make(map[string]models.Value)
	for _, l := range laserLookups {
		m := l.re.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		data[l.key] = models.FloatValue(f)
	}
	return data
}
