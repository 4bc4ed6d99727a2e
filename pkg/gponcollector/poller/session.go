// Package poller implements the shell polling stage of the pipeline.
// It converts device configuration into live SSH shell sessions, drives the
// fixed diagnostic command sequence over them, and produces RawSessionResult
// messages consumed by the parser stage.
package poller

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/opengpon/gpon_collector/pkg/gponcollector/config"
)

// ─────────────────────────────────────────────────────────────────────────────
// Session factory — DeviceConfig → *ShellConn
// ─────────────────────────────────────────────────────────────────────────────

// NewSession dials the device and opens a PTY-backed interactive shell.
// The caller is responsible for calling Close when the session is no longer
// needed. Returned errors wrap ErrConnectTimeout, ErrAuthFailed, or
// ErrTransport.
//
// The gateway firmware negotiates only a legacy algorithm set: ssh-rsa host
// keys and the aes-ctr/aes-cbc cipher families. cfg supplies the allow-list;
// relying on modern client defaults makes the handshake fail.
func NewSession(cfg config.DeviceConfig) (*ShellConn, error) {
	clientCfg := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
			// Some firmwares only advertise keyboard-interactive; answer
			// every prompt with the password.
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cfg.Password
				}
				return answers, nil
			}),
		},
		// The device presents a self-signed host key that changes across
		// firmware resets; pinning is not practical on this hardware.
		HostKeyCallback:   ssh.InsecureIgnoreHostKey(),
		HostKeyAlgorithms: cfg.HostKeyAlgorithms,
		Timeout:           cfg.ConnectTimeout(),
	}
	clientCfg.Ciphers = cfg.Ciphers

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	tcp, err := net.DialTimeout("tcp", addr, cfg.ConnectTimeout())
	if err != nil {
		return nil, classifyDialError(addr, err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(tcp, addr, clientCfg)
	if err != nil {
		_ = tcp.Close()
		return nil, classifyHandshakeError(addr, err)
	}
	client := ssh.NewClient(conn, chans, reqs)

	sc, err := openShell(client, tcp, cfg)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, addr, err)
	}
	return sc, nil
}

// openShell requests a vt100 PTY and starts the remote shell, wiring the
// stdio pipes into a ShellConn.
func openShell(client *ssh.Client, tcp net.Conn, cfg config.DeviceConfig) (*ShellConn, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("vt100", 24, 80, modes); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return newShellConn(client, sess, tcp, stdin, stdout), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Error classification
// ─────────────────────────────────────────────────────────────────────────────

func classifyDialError(addr string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: dial %s: %v", ErrConnectTimeout, addr, err)
	}
	return fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, err)
}

func classifyHandshakeError(addr string, err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: handshake %s: %v", ErrConnectTimeout, addr, err)
	case strings.Contains(err.Error(), "unable to authenticate"),
		strings.Contains(err.Error(), "password rejected"):
		return fmt.Errorf("%w: %s: %v", ErrAuthFailed, addr, err)
	default:
		return fmt.Errorf("%w: handshake %s: %v", ErrTransport, addr, err)
	}
}
