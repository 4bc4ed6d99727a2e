package httpapi_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengpon/gpon_collector/models"
	"github.com/opengpon/gpon_collector/transport/httpapi"
)

func newTestServer(state *httpapi.State) *httptest.Server {
	srv := httpapi.New(httpapi.Config{}, state, nil)
	return httptest.NewServer(srv.Handler())
}

func sampleSnapshot(ts time.Time) *models.Snapshot {
	return &models.Snapshot{
		Timestamp: ts,
		Device: models.Device{
			Hostname:  "gateway01",
			IPAddress: "192.0.2.1",
			Identity:  models.Identity{Model: "GPT-2541GNAC", SerialNumber: "S123456"},
		},
		Metrics: map[string]models.Value{
			"laser_rx_power": models.FloatValue(-20.41),
		},
		Metadata: models.PollMetadata{CollectorID: "collector-a", PollStatus: "success"},
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(httpapi.NewState())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDevicesListing(t *testing.T) {
	state := httpapi.NewState()
	now := time.Now()
	state.RecordSnapshot(sampleSnapshot(now))
	state.RecordFailure("gateway02", errors.New("connect timeout"), now)

	ts := newTestServer(state)
	defer ts.Close()

	var body struct {
		Devices []struct {
			Hostname    string `json:"hostname"`
			HasSnapshot bool   `json:"has_snapshot"`
			Stale       bool   `json:"stale"`
			LastError   string `json:"last_error"`
		} `json:"devices"`
	}
	status := getJSON(t, ts.URL+"/api/v1/devices", &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Devices, 2)

	// Sorted by hostname.
	assert.Equal(t, "gateway01", body.Devices[0].Hostname)
	assert.True(t, body.Devices[0].HasSnapshot)
	assert.False(t, body.Devices[0].Stale)

	assert.Equal(t, "gateway02", body.Devices[1].Hostname)
	assert.False(t, body.Devices[1].HasSnapshot)
	assert.Equal(t, "connect timeout", body.Devices[1].LastError)
}

func TestSnapshotEndpoint(t *testing.T) {
	state := httpapi.NewState()
	state.RecordSnapshot(sampleSnapshot(time.Now()))

	ts := newTestServer(state)
	defer ts.Close()

	var body struct {
		Snapshot *models.Snapshot `json:"snapshot"`
		Stale    bool             `json:"stale"`
	}
	status := getJSON(t, ts.URL+"/api/v1/devices/gateway01/snapshot", &body)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, body.Snapshot)

	assert.Equal(t, "gateway01", body.Snapshot.Device.Hostname)
	assert.False(t, body.Stale)

	v, ok := body.Snapshot.Metrics["laser_rx_power"].AsFloat()
	require.True(t, ok)
	assert.Equal(t, -20.41, v)
}

func TestSnapshotEndpoint_StaleAfterFailure(t *testing.T) {
	state := httpapi.NewState()
	now := time.Now()
	state.RecordSnapshot(sampleSnapshot(now.Add(-time.Minute)))
	state.RecordFailure("gateway01", errors.New("session error"), now)

	ts := newTestServer(state)
	defer ts.Close()

	var body struct {
		Snapshot  *models.Snapshot `json:"snapshot"`
		Stale     bool             `json:"stale"`
		LastError string           `json:"last_error"`
	}
	status := getJSON(t, ts.URL+"/api/v1/devices/gateway01/snapshot", &body)
	require.Equal(t, http.StatusOK, status)

	// Last-good snapshot is still served, flagged as stale.
	require.NotNil(t, body.Snapshot)
	assert.True(t, body.Stale)
	assert.Equal(t, "session error", body.LastError)

	// A later success clears the flag.
	state.RecordSnapshot(sampleSnapshot(now.Add(time.Minute)))
	status = getJSON(t, ts.URL+"/api/v1/devices/gateway01/snapshot", &body)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, body.Stale)
	assert.Empty(t, body.LastError)
}

func TestSnapshotEndpoint_NotFound(t *testing.T) {
	state := httpapi.NewState()
	state.RecordFailure("gateway02", errors.New("connect timeout"), time.Now())

	ts := newTestServer(state)
	defer ts.Close()

	// Never observed at all.
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/devices/nosuch/snapshot", nil))
	// Observed, but no successful poll yet.
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/devices/gateway02/snapshot", nil))
}

func TestIdentityEndpoint(t *testing.T) {
	state := httpapi.NewState()
	state.RecordSnapshot(sampleSnapshot(time.Now()))

	ts := newTestServer(state)
	defer ts.Close()

	var id models.Identity
	status := getJSON(t, ts.URL+"/api/v1/devices/gateway01/identity", &id)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "GPT-2541GNAC", id.Model)
	assert.Equal(t, "S123456", id.SerialNumber)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/devices/nosuch/identity", nil))
}

func TestIdentityEndpoint_EmptyIdentity(t *testing.T) {
	state := httpapi.NewState()
	snap := sampleSnapshot(time.Now())
	snap.Device.Identity = models.Identity{}
	state.RecordSnapshot(snap)

	ts := newTestServer(state)
	defer ts.Close()

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/devices/gateway01/identity", nil))
}
