package poller_test

import (
	"context"
	"testing"
	"time"

	"github.com/opengpon/gpon_collector/models"
	"github.com/opengpon/gpon_collector/pkg/gponcollector/config"
	"github.com/opengpon/gpon_collector/pkg/gponcollector/poller"
	"github.com/opengpon/gpon_collector/shell/parser"
)

// fastDeviceConfig resolves to millisecond-scale session timing.
func fastDeviceConfig() config.DeviceConfig {
	return config.DeviceConfig{
		Host:            "192.0.2.1",
		Port:            22,
		Username:        "admin",
		Password:        "secret",
		BannerSettleMs:  1,
		BannerReadMs:    1,
		CommandSettleMs: 1,
		CaptureWindowMs: 50,
		PromptPattern:   config.PromptDisabled,
	}
}

// dialTo returns a DialFunc that always hands out conn.
func dialTo(conn poller.Conn) poller.DialFunc {
	return func(config.DeviceConfig) (poller.Conn, error) {
		return conn, nil
	}
}

func TestShellPoller_PollRunsTelemetrySequence(t *testing.T) {
	conn := &scriptConn{responses: map[string]string{
		parser.CommandLANStats:   "lan",
		parser.CommandWANStats:   "wan",
		parser.CommandLaserCheck: "laser",
	}}
	p := poller.NewShellPoller(poller.Options{Dial: dialTo(conn)}, nil)

	job := poller.PollJob{
		Hostname:     "gateway01",
		Device:       models.Device{Hostname: "gateway01", IPAddress: "192.0.2.1"},
		DeviceConfig: fastDeviceConfig(),
	}

	before := time.Now()
	result, err := p.Poll(context.Background(), job)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if result.Device.Hostname != "gateway01" {
		t.Errorf("Device.Hostname = %q", result.Device.Hostname)
	}
	if len(result.Outputs) != 3 {
		t.Fatalf("got %d outputs, want 3", len(result.Outputs))
	}
	want := []string{parser.CommandLANStats, parser.CommandWANStats, parser.CommandLaserCheck}
	for i, cmd := range want {
		if result.Outputs[i].Command != cmd {
			t.Errorf("Outputs[%d].Command = %q, want %q", i, result.Outputs[i].Command, cmd)
		}
	}
	if result.PollStartedAt.Before(before) || result.CollectedAt.Before(result.PollStartedAt) {
		t.Errorf("timestamps out of order: started %v, collected %v",
			result.PollStartedAt, result.CollectedAt)
	}
}

func TestShellPoller_FetchIdentity(t *testing.T) {
	conn := &scriptConn{responses: map[string]string{
		parser.CommandIdentity: "Product Model     : GPT-2541GNAC\r\nSerial Number     : S123456\r\n",
	}}
	p := poller.NewShellPoller(poller.Options{Dial: dialTo(conn)}, nil)

	id, err := p.FetchIdentity(context.Background(), fastDeviceConfig())
	if err != nil {
		t.Fatalf("FetchIdentity: %v", err)
	}
	if id.Model != "GPT-2541GNAC" {
		t.Errorf("Model = %q", id.Model)
	}
	if id.SerialNumber != "S123456" {
		t.Errorf("SerialNumber = %q", id.SerialNumber)
	}
}

func TestShellPoller_TestConnection(t *testing.T) {
	okConn := &scriptConn{responses: map[string]string{
		parser.CommandLaserCheck: "  Rx Optical Power        = -20.41 dBm\n",
	}}
	p := poller.NewShellPoller(poller.Options{Dial: dialTo(okConn)}, nil)

	ok, err := p.TestConnection(context.Background(), fastDeviceConfig())
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if !ok {
		t.Error("TestConnection = false for valid lasercheck output")
	}

	// A reachable shell that answers with something unexpected is not a
	// working telemetry target.
	badConn := &scriptConn{responses: map[string]string{
		parser.CommandLaserCheck: "unknown command\n",
	}}
	p = poller.NewShellPoller(poller.Options{Dial: dialTo(badConn)}, nil)

	ok, err = p.TestConnection(context.Background(), fastDeviceConfig())
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if ok {
		t.Error("TestConnection = true for unexpected output")
	}
}

func TestWorkerPool_ReportsDoneAndForwardsResults(t *testing.T) {
	conn := &scriptConn{responses: map[string]string{
		parser.CommandLANStats: "lan",
	}}
	p := poller.NewShellPoller(poller.Options{Dial: dialTo(conn)}, nil)

	output := make(chan parser.RawSessionResult, 1)
	pool := poller.NewWorkerPool(2, p, output, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	doneCh := make(chan error, 1)
	pool.Submit(poller.PollJob{
		Hostname:     "gateway01",
		Device:       models.Device{Hostname: "gateway01"},
		DeviceConfig: fastDeviceConfig(),
		Done:         func(err error) { doneCh <- err },
	})

	select {
	case err := <-doneCh:
		if err != nil {
			t.Fatalf("Done reported error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Done callback never fired")
	}

	select {
	case result := <-output:
		if result.Device.Hostname != "gateway01" {
			t.Errorf("result hostname = %q", result.Device.Hostname)
		}
	case <-time.After(time.Second):
		t.Fatal("no result forwarded")
	}

	pool.Stop()
}
