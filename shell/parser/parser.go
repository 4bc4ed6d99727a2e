// Package parser converts raw shell-command output captured from the gateway
// into typed metric values.
//
// Pipeline position:
//
//	poller [Stage 1] → shell/parser [Stage 2] → producer/metrics [Stage 3]
//
// All extractors are pure and deterministic: no I/O, no state, no errors.
// Malformed or truncated input degrades to a smaller metric set — a line
// either contributes its complete field group or nothing at all. This
// no-throw contract is load-bearing: the session layer legitimately delivers
// partial output when a capture window times out, and the parser must absorb
// that without failing the poll.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/opengpon/gpon_collector/models"
)

// Section-header lines that toggle the rx/tx grouping context inside
// showlanstats / showwanstats output. Rows seen before the first header are
// outside any section and are ignored.
const (
	rxHeader = "Received Counters:"
	txHeader = "Transmitted Counters:"
)

// The eight trailing numeric columns of every counter row, in column order.
var counterFields = [...]string{
	"total_bytes",
	"total_packets",
	"errors",
	"drops",
	"multicast_bytes",
	"multicast_packets",
	"unicast_packets",
	"broadcast_packets",
}

var (
	// lanRowRe matches one LAN interface row: name, link status, 8 counters.
	lanRowRe = regexp.MustCompile(`^\s+(\w+)\s+(Up|Disabled|Down)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)`)

	// wanRowRe matches one WAN interface row: name token, VLAN id, 8 counters.
	wanRowRe = regexp.MustCompile(`^\s+(\S+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)`)
)

// ParseLANStats extracts per-interface counters from showlanstats output.
// Keys follow the scheme lan_{iface}_{rx|tx}_{field}; the link status is
// emitted as a string under lan_{iface}_{rx|tx}_status.
func ParseLANStats(output string) map[string]models.Value {
	data := make(map[string]models.Value)

	section := ""
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.Contains(line, rxHeader):
			section = "rx"
			continue
		case strings.Contains(line, txHeader):
			section = "tx"
			continue
		}
		if section == "" {
			continue
		}

		m := lanRowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		counters, ok := parseCounters(m[3:11])
		if !ok {
			continue
		}

		prefix := "lan_" + m[1] + "_" + section
		data[prefix+"_status"] = models.StringValue(m[2])
		for i, field := range counterFields {
			data[prefix+"_"+field] = models.IntValue(counters[i])
		}
	}
	return data
}

// ParseWANStats extracts per-interface counters from showwanstats output.
// The second column is the VLAN identifier; it is kept as a string because
// VLAN ids are labels, not arithmetic quantities. Interface tokens may
// contain dots (veip0.2, ppp0.1), which are preserved in the key.
func ParseWANStats(output string) map[string]models.Value {
	data := make(map[string]models.Value)

	section := ""
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.Contains(line, rxHeader):
			section = "rx"
			continue
		case strings.Contains(line, txHeader):
			section = "tx"
			continue
		}
		if section == "" {
			continue
		}

		m := wanRowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		counters, ok := parseCounters(m[3:11])
		if !ok {
			continue
		}

		prefix := "wan_" + m[1] + "_" + section
		data[prefix+"_vlan_id"] = models.StringValue(m[2])
		for i, field := range counterFields {
			data[prefix+"_"+field] = models.IntValue(counters[i])
		}
	}
	return data
}

// parseCounters converts the captured digit groups of one row. ok=false when
// any group fails integer conversion (overflow), so the row contributes
// nothing rather than a partial record.
func parseCounters(groups []string) ([len(counterFields)]int64, bool) {
	var out [len(counterFields)]int64
	for i, g := range groups {
		n, err := strconv.ParseInt(g, 10, 64)
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}
