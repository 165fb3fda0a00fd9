package transport

// SSH transport with:
// - key or password auth
// - known_hosts verification when a file is configured
// - TCP keepalive on the dialer
// - keepalive@openssh.com watchdog, so a silent link drop closes the
//   connection instead of leaving reads blocked forever

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHConfig struct {
	Host     string
	Port     int
	User     string
	KeyPath  string
	Password string

	// KnownHosts is a known_hosts file. Empty accepts any host key.
	KnownHosts string

	DialTimeout       time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
}

func (c SSHConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SSHDialer dials the tablet over SSH.
type SSHDialer struct {
	cfg SSHConfig
	log *zap.Logger
}

func NewSSHDialer(cfg SSHConfig, log *zap.Logger) *SSHDialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &SSHDialer{cfg: cfg, log: log}
}

func (d *SSHDialer) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if d.cfg.KeyPath != "" {
		pem, err := os.ReadFile(d.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", d.cfg.KeyPath, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if d.cfg.Password != "" {
		auth = append(auth, ssh.Password(d.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh auth method configured (key_path or password)")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if d.cfg.KnownHosts != "" {
		cb, err := knownhosts.New(d.cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("known_hosts: %w", err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            d.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         d.cfg.DialTimeout,
	}, nil
}

// Dial connects and authenticates. The handshake is abandoned when ctx ends.
func (d *SSHDialer) Dial(ctx context.Context) (Conn, error) {
	cc, err := d.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := d.cfg.addr()

	nd := &net.Dialer{
		Timeout:   d.cfg.DialTimeout,
		KeepAlive: 15 * time.Second,
	}
	nc, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// ssh.NewClientConn has no context; closing the socket aborts it.
	_ = nc.SetDeadline(time.Now().Add(d.cfg.DialTimeout))
	stop := context.AfterFunc(ctx, func() { nc.Close() })
	sc, chans, reqs, err := ssh.NewClientConn(nc, addr, cc)
	if !stop() {
		if err == nil {
			sc.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	_ = nc.SetDeadline(time.Time{})

	c := &sshConn{
		client: ssh.NewClient(sc, chans, reqs),
		log:    d.log,
		done:   make(chan struct{}),
	}
	go func() {
		_ = c.client.Wait()
		c.markDone()
	}()
	if d.cfg.KeepaliveInterval > 0 {
		timeout := d.cfg.KeepaliveTimeout
		if timeout <= 0 {
			timeout = 2 * d.cfg.KeepaliveInterval
		}
		go c.keepalive(d.cfg.KeepaliveInterval, timeout)
	}
	return c, nil
}

type sshConn struct {
	client *ssh.Client
	log    *zap.Logger

	doneOnce sync.Once
	done     chan struct{}
}

func (c *sshConn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *sshConn) Done() <-chan struct{} { return c.done }

func (c *sshConn) Close() error {
	err := c.client.Close()
	c.markDone()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *sshConn) keepalive(every, timeout time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
		}
		replied := make(chan error, 1)
		go func() {
			// Any reply, even a refusal, proves the peer is alive.
			_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
			replied <- err
		}()
		select {
		case <-c.done:
			return
		case err := <-replied:
			if err != nil {
				c.log.Warn("ssh keepalive failed", zap.Error(err))
				c.Close()
				return
			}
		case <-time.After(timeout):
			c.log.Warn("ssh keepalive timed out, closing connection", zap.Duration("timeout", timeout))
			c.Close()
			return
		}
	}
}

func (c *sshConn) newSession() (*ssh.Session, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}
	s, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: new session: %v", ErrClosed, err)
	}
	return s, nil
}

func (c *sshConn) Run(ctx context.Context, cmd string, stdin io.Reader) ([]byte, error) {
	s, err := c.newSession()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var stdout, stderr bytes.Buffer
	s.Stdin = stdin
	s.Stdout = &stdout
	s.Stderr = &stderr
	if err := s.Start(cmd); err != nil {
		return nil, fmt.Errorf("start %q: %w", cmd, err)
	}

	waitC := make(chan error, 1)
	go func() { waitC <- s.Wait() }()
	select {
	case err := <-waitC:
		return stdout.Bytes(), mapWaitErr(cmd, err, stderr.String())
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("run %q: %w", cmd, ErrClosed)
	}
}

func (c *sshConn) Start(ctx context.Context, cmd string) (Process, error) {
	s, err := c.newSession()
	if err != nil {
		return nil, err
	}
	out, err := s.StdoutPipe()
	if err != nil {
		s.Close()
		return nil, err
	}
	p := &sshProcess{cmd: cmd, session: s, stdout: out}
	s.Stderr = &p.stderr
	if err := s.Start(cmd); err != nil {
		s.Close()
		return nil, fmt.Errorf("start %q: %w", cmd, err)
	}
	p.stop = context.AfterFunc(ctx, p.Kill)
	return p, nil
}

type sshProcess struct {
	cmd     string
	session *ssh.Session
	stdout  io.Reader
	stderr  bytes.Buffer
	stop    func() bool

	killOnce sync.Once
}

func (p *sshProcess) Stdout() io.Reader { return p.stdout }

func (p *sshProcess) Wait() error {
	err := p.session.Wait()
	p.stop()
	return mapWaitErr(p.cmd, err, p.stderr.String())
}

func (p *sshProcess) Kill() {
	p.killOnce.Do(func() {
		_ = p.session.Signal(ssh.SIGTERM)
		_ = p.session.Close()
	})
}

func mapWaitErr(cmd string, err error, stderr string) error {
	if err == nil {
		return nil
	}
	var ee *ssh.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Cmd: cmd, Status: ee.ExitStatus(), Stderr: stderr}
	}
	return fmt.Errorf("%q: %w: %v", cmd, ErrClosed, err)
}
