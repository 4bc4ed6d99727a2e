// Package httpapi exposes the collector's most recent observations over a
// small read-only HTTP API.
//
// State is the in-memory view the API serves: the last successful snapshot
// per device plus the outcome of the most recent poll. The pipeline updates
// it on every poll completion; the handlers in server.go only read it.
package httpapi

import (
	"sync"
	"time"

	"github.com/opengpon/gpon_collector/models"
)

// DeviceState is the per-device view held by State.
type DeviceState struct {
	// Snapshot is the last successful snapshot, nil until the first
	// successful poll.
	Snapshot *models.Snapshot

	// LastSuccess is when Snapshot was taken.
	LastSuccess time.Time

	// LastError is the flattened error of the most recent failed poll,
	// empty when the last poll succeeded.
	LastError string

	// LastErrorAt is when LastError was observed.
	LastErrorAt time.Time
}

// Stale reports whether the held snapshot is outdated: a poll has failed
// since the snapshot was taken, so the values no longer reflect the device.
func (ds DeviceState) Stale() bool {
	if ds.Snapshot == nil {
		return false
	}
	return ds.LastError != "" && ds.LastErrorAt.After(ds.LastSuccess)
}

// State holds the latest observations for all devices.  Safe for concurrent
// use.
type State struct {
	mu      sync.RWMutex
	devices map[string]*DeviceState
}

// NewState returns an empty State.
func NewState() *State {
	return &State{devices: make(map[string]*DeviceState)}
}

// RecordSnapshot stores a successful poll result and clears any previous
// error for the device.
func (st *State) RecordSnapshot(snap *models.Snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()

	ds := st.ensure(snap.Device.Hostname)
	ds.Snapshot = snap
	ds.LastSuccess = snap.Timestamp
	ds.LastError = ""
	ds.LastErrorAt = time.Time{}
}

// RecordFailure stores a failed poll outcome.  The previous snapshot, if
// any, is retained so the API can keep serving last-good values.
func (st *State) RecordFailure(hostname string, err error, at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	ds := st.ensure(hostname)
	ds.LastError = err.Error()
	ds.LastErrorAt = at
}

// Device returns a copy of the device's state.  ok=false when the device
// has never been observed.
func (st *State) Device(hostname string) (DeviceState, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ds, ok := st.devices[hostname]
	if !ok {
		return DeviceState{}, false
	}
	return *ds, true
}

// Hostnames returns the hostnames of all observed devices.
func (st *State) Hostnames() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]string, 0, len(st.devices))
	for h := range st.devices {
		out = append(out, h)
	}
	return out
}

// ensure returns the entry for hostname, creating it if needed.
// Caller must hold st.mu.
func (st *State) ensure(hostname string) *DeviceState {
	ds, ok := st.devices[hostname]
	if !ok {
		ds = &DeviceState{}
		st.devices[hostname] = ds
	}
	return ds
}
