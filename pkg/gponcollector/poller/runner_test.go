package poller_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opengpon/gpon_collector/pkg/gponcollector/poller"
)

// ─────────────────────────────────────────────────────────────────────────────
// scriptConn — scripted Conn for driving the runner without SSH
// ─────────────────────────────────────────────────────────────────────────────

// scriptConn answers each written command with a canned response, emulating
// the PTY byte stream. A command with no scripted response produces an empty
// capture, like a device that stayed silent for the whole window.
type scriptConn struct {
	mu        sync.Mutex
	responses map[string]string
	pending   []byte
	writes    []string
	writeErr  error
	closes    int
}

func (c *scriptConn) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}
	cmd := strings.TrimSuffix(string(p), "\n")
	c.writes = append(c.writes, cmd)
	c.pending = append(c.pending, c.responses[cmd]...)
	return nil
}

func (c *scriptConn) ReadAvailable(max int, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		n := len(c.pending)
		if n > max {
			n = max
		}
		out := c.pending[:n]
		c.pending = c.pending[n:]
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	time.Sleep(timeout)
	return nil, nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

// fastTiming keeps the settle-and-drain waits tiny so tests stay quick.
func fastTiming() poller.Timing {
	return poller.Timing{
		BannerSettle:  time.Millisecond,
		BannerRead:    time.Millisecond,
		CommandSettle: time.Millisecond,
		CaptureWindow: 150 * time.Millisecond,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Run
// ─────────────────────────────────────────────────────────────────────────────

func TestRunner_CapturesEveryCommandInOrder(t *testing.T) {
	conn := &scriptConn{responses: map[string]string{
		"showlanstats": "lan output",
		"lasercheck":   "Rx Optical Power = -20.41 dBm",
	}}
	runner := poller.NewRunner(fastTiming(), nil)

	// showwanstats has no scripted response: its window expires empty, but
	// the command must still appear in the result and the sequence must
	// continue past it.
	outputs, err := runner.Run(context.Background(), conn,
		[]string{"showlanstats", "showwanstats", "lasercheck"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(outputs) != 3 {
		t.Fatalf("got %d outputs, want 3", len(outputs))
	}
	if outputs[0].Command != "showlanstats" || outputs[0].Output != "lan output" {
		t.Errorf("outputs[0] = %+v", outputs[0])
	}
	if outputs[1].Command != "showwanstats" || outputs[1].Output != "" {
		t.Errorf("outputs[1] = %+v, want empty capture", outputs[1])
	}
	if outputs[2].Output != "Rx Optical Power = -20.41 dBm" {
		t.Errorf("outputs[2] = %+v", outputs[2])
	}

	// The session always ends with the exit directive and a close.
	if got := conn.writes[len(conn.writes)-1]; got != "exit" {
		t.Errorf("last write = %q, want \"exit\"", got)
	}
	if conn.closes != 1 {
		t.Errorf("closes = %d, want 1", conn.closes)
	}
}

func TestRunner_WriteFailureAbortsSequence(t *testing.T) {
	conn := &scriptConn{writeErr: fmt.Errorf("broken pipe")}
	runner := poller.NewRunner(fastTiming(), nil)

	outputs, err := runner.Run(context.Background(), conn, []string{"showlanstats"})
	if err == nil {
		t.Fatal("Run: want error")
	}
	if !errors.Is(err, poller.ErrSession) {
		t.Errorf("error %v does not wrap ErrSession", err)
	}
	if outputs != nil {
		t.Errorf("outputs = %v, want nil on connection-level failure", outputs)
	}
	if conn.closes != 1 {
		t.Errorf("closes = %d, want 1", conn.closes)
	}
}

func TestRunner_PromptEndsCaptureEarly(t *testing.T) {
	timing := fastTiming()
	timing.CaptureWindow = 2 * time.Second
	timing.Prompt = regexp.MustCompile(`> $`)

	conn := &scriptConn{responses: map[string]string{
		"showlanstats": "lan output\n> ",
	}}
	runner := poller.NewRunner(timing, nil)

	start := time.Now()
	outputs, err := runner.Run(context.Background(), conn, []string{"showlanstats"})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outputs[0].Output != "lan output\n> " {
		t.Errorf("capture = %q", outputs[0].Output)
	}
	if elapsed >= timing.CaptureWindow {
		t.Errorf("capture took %v, want early exit well before %v", elapsed, timing.CaptureWindow)
	}
}

func TestRunner_CaptureRespectsByteCap(t *testing.T) {
	timing := fastTiming()
	timing.MaxCaptureBytes = 10

	conn := &scriptConn{responses: map[string]string{
		"showlanstats": strings.Repeat("x", 100),
	}}
	runner := poller.NewRunner(timing, nil)

	outputs, err := runner.Run(context.Background(), conn, []string{"showlanstats"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(outputs[0].Output); got != 10 {
		t.Errorf("capture length = %d, want 10", got)
	}
}

func TestRunner_ContextCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn := &scriptConn{}
	runner := poller.NewRunner(fastTiming(), nil)

	if _, err := runner.Run(ctx, conn, []string{"showlanstats"}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if conn.closes != 1 {
		t.Errorf("closes = %d, want 1", conn.closes)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Error taxonomy
// ─────────────────────────────────────────────────────────────────────────────

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("poll gw: %w", poller.ErrConnectTimeout), "connect_timeout"},
		{fmt.Errorf("poll gw: %w", poller.ErrAuthFailed), "auth_failed"},
		{fmt.Errorf("poll gw: %w", poller.ErrTransport), "transport"},
		{fmt.Errorf("%w: write failed", poller.ErrSession), "session"},
		{errors.New("something else"), "unknown"},
	}
	for _, tc := range tests {
		if got := poller.ErrorKind(tc.err); got != tc.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
