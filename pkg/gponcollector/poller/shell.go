package poller

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// ─────────────────────────────────────────────────────────────────────────────
// Conn — byte channel with timed reads
// ─────────────────────────────────────────────────────────────────────────────

// Conn is the byte-stream contract the session runner drives. ReadAvailable
// returning zero bytes after the timeout is a normal signal that no more
// output is currently available, not an error; the error return is reserved
// for connection-level failures. Using an interface lets tests inject a
// scripted connection without a live SSH endpoint.
type Conn interface {
	Write(p []byte) error
	ReadAvailable(max int, timeout time.Duration) ([]byte, error)
	Close() error
}

// ─────────────────────────────────────────────────────────────────────────────
// ShellConn — production Conn over an SSH PTY
// ─────────────────────────────────────────────────────────────────────────────

// ShellConn is a live PTY-backed shell channel. A pump goroutine moves bytes
// from the remote stdout into an internal channel so that ReadAvailable can
// impose timeouts the underlying pipe does not support. Close may be called
// from another goroutine to abandon an in-flight session; each poll opens a
// brand-new connection, so an abrupt close never corrupts later polls.
type ShellConn struct {
	client *ssh.Client
	sess   *ssh.Session
	tcp    net.Conn
	stdin  io.WriteCloser

	chunks chan []byte

	mu      sync.Mutex
	pumpErr error
	closed  bool
}

func newShellConn(client *ssh.Client, sess *ssh.Session, tcp net.Conn, stdin io.WriteCloser, stdout io.Reader) *ShellConn {
	c := &ShellConn{
		client: client,
		sess:   sess,
		tcp:    tcp,
		stdin:  stdin,
		chunks: make(chan []byte, 64),
	}
	go c.pump(stdout)
	return c
}

// pump reads the remote stdout until EOF or error and forwards each chunk.
// It owns the close of c.chunks.
func (c *ShellConn) pump(stdout io.Reader) {
	defer close(c.chunks)

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.chunks <- chunk
		}
		if err != nil {
			if err != io.EOF {
				c.mu.Lock()
				c.pumpErr = err
				c.mu.Unlock()
			}
			return
		}
	}
}

// Write sends p to the remote shell's stdin.
func (c *ShellConn) Write(p []byte) error {
	_, err := c.stdin.Write(p)
	return err
}

// ReadAvailable collects whatever output arrives within the timeout window,
// up to max bytes. It returns early when max is reached or the stream ends.
// A timeout with no data returns an empty slice and a nil error.
func (c *ShellConn) ReadAvailable(max int, timeout time.Duration) ([]byte, error) {
	if max <= 0 {
		return nil, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var buf bytes.Buffer
	for buf.Len() < max {
		select {
		case chunk, ok := <-c.chunks:
			if !ok {
				// Stream ended. Only report an error when the pump saw one
				// and the close was not requested by us.
				return buf.Bytes(), c.streamErr()
			}
			if buf.Len()+len(chunk) > max {
				chunk = chunk[:max-buf.Len()]
			}
			buf.Write(chunk)
		case <-timer.C:
			return buf.Bytes(), nil
		}
	}
	return buf.Bytes(), nil
}

func (c *ShellConn) streamErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if c.pumpErr != nil {
		return c.pumpErr
	}
	return io.EOF
}

// Close tears the session and connection down. It is best-effort and safe to
// call more than once and from any goroutine.
func (c *ShellConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.stdin.Close()
	_ = c.sess.Close()
	err := c.client.Close()
	// client.Close closes the underlying net.Conn; closing it again is a
	// harmless no-op that guards against a wedged ssh transport.
	_ = c.tcp.Close()
	return err
}
