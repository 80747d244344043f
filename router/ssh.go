package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/songgao/keenroutesd/cidr"
	"github.com/songgao/keenroutesd/retry"
	"github.com/songgao/keenroutesd/routing"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/net/proxy"
)

// ErrChannelClosed is the one command failure SSHTarget retries: the channel
// carrying the command went away before the router reported an exit status.
var ErrChannelClosed = errors.New("ssh channel closed")

// CommandError is a command the router refused or that could not be run.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("command %q error: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %q error: %v: %s", e.Command, e.Err, e.Output)
}

func (e *CommandError) Unwrap() error { return e.Err }

// commandRunner executes one CLI command on an open session.
type commandRunner interface {
	Run(cmd string) ([]byte, error)
	Close() error
}

// SSHConfig configures DialSSH.
type SSHConfig struct {
	// Addr is "host:port".
	Addr      string
	Username  string
	Password  string
	Interface string
	// KnownHostsFile verifies the router's host key when set. Otherwise any
	// host key is accepted.
	KnownHostsFile string
	// Retry is applied to every command. Its Classify is replaced so that
	// only ErrChannelClosed is retried.
	Retry retry.Policy
}

// SSHTarget runs route commands over a single SSH connection.
type SSHTarget struct {
	logger    *zap.Logger
	runner    commandRunner
	iface     string
	policy    retry.Policy
	closeOnce sync.Once
	closeErr  error
}

var _ routing.Target = (*SSHTarget)(nil)

func newSSHTarget(logger *zap.Logger, runner commandRunner, iface string, policy retry.Policy) *SSHTarget {
	policy.Classify = retry.Only(ErrChannelClosed)
	return &SSHTarget{logger: logger, runner: runner, iface: iface, policy: policy}
}

// DialSSH opens the session used for the whole run. On failure nothing is
// left open.
func DialSSH(ctx context.Context, logger *zap.Logger, dialer proxy.ContextDialer, cfg SSHConfig) (*SSHTarget, error) {
	logger.Debug("+ DialSSH")
	defer logger.Debug("- DialSSH")

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("reading known hosts error: %v", err)
		}
		hostKeyCallback = cb
	} else {
		logger.Sugar().Warnf("no known hosts file configured; not verifying host key of %s", cfg.Addr)
	}

	password := cfg.Password
	clientConfig := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeyCallback,
	}

	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s error: %v", cfg.Addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, cfg.Addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s error: %v", cfg.Addr, err)
	}
	logger.Sugar().Infof("ssh session to %s established", cfg.Addr)

	return newSSHTarget(logger, &sshRunner{client: ssh.NewClient(c, chans, reqs)}, cfg.Interface, cfg.Retry), nil
}

// Apply removes any existing route for r, then adds it through the egress
// interface. Every error it returns is fatal to the batch.
func (t *SSHTarget) Apply(ctx context.Context, r cidr.Route) error {
	for _, cmd := range []string{RemoveCommand(r), AddCommand(r, t.iface)} {
		if err := t.exec(ctx, cmd); err != nil {
			return routing.Fatal(err)
		}
	}
	return nil
}

func (t *SSHTarget) exec(ctx context.Context, cmd string) error {
	policy := t.policy
	policy.OnRetry = func(attempt int, err error) {
		t.logger.Sugar().Warnf("attempt %d for %q failed: %v", attempt, cmd, err)
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := t.runner.Run(cmd)
		if err != nil {
			return classifySSHError(cmd, out, err)
		}
		t.logger.Sugar().Debugf("%s: %s", cmd, strings.TrimSpace(string(out)))
		return nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("command %q: %w", cmd, err)
	}
	return err
}

func classifySSHError(cmd string, out []byte, err error) error {
	var exitMissing *ssh.ExitMissingError
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.As(err, &exitMissing) {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	return &CommandError{Command: cmd, Output: strings.TrimSpace(string(out)), Err: err}
}

// Close releases the SSH connection. Further calls return the first result.
func (t *SSHTarget) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.runner.Close()
		t.logger.Debug("ssh session closed")
	})
	return t.closeErr
}

// sshRunner opens one channel per command on a shared client connection.
type sshRunner struct {
	client *ssh.Client
}

func (s *sshRunner) Run(cmd string) ([]byte, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.CombinedOutput(cmd)
}

func (s *sshRunner) Close() error {
	return s.client.Close()
}
