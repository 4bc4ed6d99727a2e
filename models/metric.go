// Package models defines the core data structures shared across all layers of
// the GPON Collector. These types represent the canonical in-memory form of
// all collected data; every other package depends on this package and nothing
// here depends on any other internal package.
package models

import "time"

// Snapshot is the top-level payload produced per polling cycle.
// It contains everything the downstream pipeline (formatter → transport) needs:
// the originating device, the flat metric mapping, and collection metadata.
type Snapshot struct {
	Timestamp time.Time        `json:"timestamp"`
	Device    Device           `json:"device"`
	Metrics   map[string]Value `json:"metrics"`
	Metadata  PollMetadata     `json:"metadata,omitempty"`
}

// Device carries identifying information about the monitored gateway.
// The Identity block is populated once at startup from the identity command
// and treated as immutable for the process lifetime.
type Device struct {
	Hostname  string   `json:"hostname"`
	IPAddress string   `json:"ip_address"`
	Identity  Identity `json:"identity,omitempty"`
}

// Identity holds the device-identity block parsed from the `sys atsh` output.
// Every field is independently optional: a field the device did not report is
// left empty rather than failing the lookup.
type Identity struct {
	Firmware     string `json:"firmware,omitempty"`   // MLD Version
	Bootloader   string `json:"bootloader,omitempty"` // Bootbase Version
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// Empty reports whether no identity field was extracted at all.
func (id Identity) Empty() bool {
	return id == Identity{}
}

// PollMetadata carries operational metadata about the collection cycle.
// It is used to monitor the health and performance of the collector itself.
type PollMetadata struct {
	CollectorID    string `json:"collector_id"`
	PollDurationMs int64  `json:"poll_duration_ms"`
	PollStatus     string `json:"poll_status"` // "success" | "error"
}
