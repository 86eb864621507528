package sftp

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// dialPolicy is how Dial retries establishing the SSH connection.
type dialPolicy struct {
	attempts int
	min, max time.Duration
}

var defaultDialPolicy = dialPolicy{
	attempts: 3,
	min:      250 * time.Millisecond,
	max:      5 * time.Second,
}

// WithDialRetry sets how many times Dial attempts to establish the SSH connection,
// and the bounds of the back-off between attempts.
// It has no effect on clients that are not created by Dial.
func WithDialRetry(attempts int, minDelay, maxDelay time.Duration) ClientOption {
	return func(cl *Client) error {
		if attempts < 1 {
			return fmt.Errorf("sftp: dial attempts cannot be less than 1, was: %d", attempts)
		}

		if minDelay <= 0 || maxDelay < minDelay {
			return fmt.Errorf("sftp: invalid dial back-off bounds: min %v, max %v", minDelay, maxDelay)
		}

		cl.dial = dialPolicy{
			attempts: attempts,
			min:      minDelay,
			max:      maxDelay,
		}

		return nil
	}
}

// NewClient creates a new SFTP client on conn, by requesting the "sftp" subsystem on a new session.
// The context is only used during initialization, and handshake.
//
// Closing the returned Client closes the session, but not conn.
func NewClient(ctx context.Context, conn *ssh.Client, opts ...ClientOption) (*Client, error) {
	s, err := conn.NewSession()
	if err != nil {
		return nil, newError(KindTransport, "session", err)
	}

	if err := s.RequestSubsystem("sftp"); err != nil {
		s.Close()
		return nil, newError(KindTransport, "subsystem", err)
	}

	w, err := s.StdinPipe()
	if err != nil {
		s.Close()
		return nil, newError(KindTransport, "session", err)
	}

	r, err := s.StdoutPipe()
	if err != nil {
		s.Close()
		return nil, newError(KindTransport, "session", err)
	}

	cl, err := NewClientPipe(ctx, r, w, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}

	cl.closer = func() error {
		// The session is usually already gone once stdin is closed.
		if err := s.Close(); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}

	return cl, nil
}

// NewClientCommand starts cmd, and speaks SFTP over its standard input and output.
// This is how the system's ssh client program is used, e.g. `ssh -s host sftp`,
// or a local sftp-server binary.
//
// cmd must not have been started, and must not have Stdin or Stdout set.
// Closing the returned Client closes the program's standard input, and then waits for it to exit.
func NewClientCommand(ctx context.Context, cmd *exec.Cmd, opts ...ClientOption) (*Client, error) {
	w, err := cmd.StdinPipe()
	if err != nil {
		return nil, newError(KindTransport, "command", err)
	}

	r, err := cmd.StdoutPipe()
	if err != nil {
		w.Close()
		return nil, newError(KindTransport, "command", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		return nil, newError(KindTransport, "command", err)
	}

	cl, err := NewClientPipe(ctx, r, w, opts...)
	if err != nil {
		w.Close()
		cmd.Wait()
		return nil, err
	}

	cl.closer = cmd.Wait

	return cl, nil
}

// Dial connects to the SSH server at addr, and starts an SFTP session on it.
// Establishing the SSH connection is attempted up to three times by default,
// with a jittered back-off between attempts, see WithDialRetry.
//
// Closing the returned Client also closes the SSH connection.
func Dial(ctx context.Context, addr string, config *ssh.ClientConfig, opts ...ClientOption) (*Client, error) {
	// Options are evaluated here only for the dial policy, NewClientPipe evaluates them again.
	probe := &Client{dial: defaultDialPolicy}
	for _, opt := range opts {
		if err := opt(probe); err != nil {
			return nil, err
		}
	}
	policy := probe.dial

	bo := &backoff.Backoff{
		Factor: 2,
		Jitter: true,
		Min:    policy.min,
		Max:    policy.max,
	}

	var conn *ssh.Client
	var err error

	for {
		conn, err = dialSSH(ctx, addr, config)
		if err == nil {
			break
		}

		if int(bo.Attempt())+1 >= policy.attempts || ctx.Err() != nil {
			return nil, newError(KindTransport, "dial", err)
		}

		select {
		case <-time.After(bo.Duration()):
		case <-ctx.Done():
			return nil, newError(KindTransport, "dial", cmp.Or(context.Cause(ctx), err))
		}
	}

	cl, err := NewClient(ctx, conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}

	closeSession := cl.closer
	cl.closer = func() error {
		err := closeSession()
		return cmp.Or(conn.Close(), err)
	}

	return cl, nil
}

func dialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{
		Timeout: config.Timeout,
	}

	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// The SSH handshake itself does not observe ctx.
	stop := context.AfterFunc(ctx, func() {
		nc.SetDeadline(time.Now())
	})
	defer stop()

	c, chans, reqs, err := ssh.NewClientConn(nc, addr, config)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return ssh.NewClient(c, chans, reqs), nil
}
