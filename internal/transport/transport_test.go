package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func TestQuote(t *testing.T) {
	for in, want := range map[string]string{
		"":                 "''",
		"/tmp/rm-pad-grab": "/tmp/rm-pad-grab",
		"a b":              "'a b'",
		"it's":             `'it'\''s'`,
		"$(reboot)":        "'$(reboot)'",
	} {
		if got := Quote(in); got != want {
			t.Errorf("Quote(%q) = %s, want %s", in, got, want)
		}
	}
	if got := Command("touch", "/tmp/my marker"); got != "touch '/tmp/my marker'" {
		t.Errorf("Command = %s", got)
	}
}

func TestExitStatus(t *testing.T) {
	wrapped := fmt.Errorf("agent: %w", &ExitError{Cmd: "x", Status: 2})
	if s, ok := ExitStatus(wrapped); !ok || s != 2 {
		t.Fatalf("ExitStatus = %d, %v", s, ok)
	}
	if _, ok := ExitStatus(ErrClosed); ok {
		t.Fatal("transport error reported a status")
	}
	if _, ok := ExitStatus(nil); ok {
		t.Fatal("nil reported a status")
	}
}

// testServer is a tiny SSH server understanding a few commands:
// "cat" echoes stdin, "exit N" exits with N, "sleep" blocks until the
// channel closes and "hangup" drops the TCP connection.
type testServer struct {
	addr    string
	hostKey ssh.Signer
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == "hunter2" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(nc, cfg)
		}
	}()
	return &testServer{addr: ln.Addr().String(), hostKey: signer}
}

func serveConn(nc net.Conn, cfg *ssh.ServerConfig) {
	defer nc.Close()
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	go func() {
		for r := range reqs {
			if r.WantReply {
				r.Reply(false, nil)
			}
		}
	}()
	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "")
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range creqs {
				if req.Type != "exec" {
					if req.WantReply {
						req.Reply(false, nil)
					}
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil)
					continue
				}
				req.Reply(true, nil)
				go func(cmd string) {
					status := execute(cmd, ch, nc)
					ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
					ch.Close()
				}(payload.Command)
			}
		}()
	}
}

func execute(cmd string, ch ssh.Channel, nc net.Conn) int {
	switch {
	case cmd == "cat":
		io.Copy(ch, ch)
		return 0
	case strings.HasPrefix(cmd, "exit "):
		n, _ := strconv.Atoi(strings.TrimPrefix(cmd, "exit "))
		io.WriteString(ch.Stderr(), "bye")
		return n
	case cmd == "sleep":
		io.Copy(io.Discard, ch)
		return 0
	case cmd == "hangup":
		nc.Close()
		return 0
	}
	return 127
}

func (s *testServer) config(t *testing.T) SSHConfig {
	host, port, _ := net.SplitHostPort(s.addr)
	p, _ := strconv.Atoi(port)
	return SSHConfig{Host: host, Port: p, User: "root", Password: "hunter2", DialTimeout: 5 * time.Second}
}

func dial(t *testing.T, cfg SSHConfig) Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := NewSSHDialer(cfg, zaptest.NewLogger(t)).Dial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSSHRunAndExitStatus(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv.config(t))
	ctx := context.Background()

	out, err := c.Run(ctx, "cat", strings.NewReader("agent bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "agent bytes" {
		t.Fatalf("cat echoed %q", out)
	}

	_, err = c.Run(ctx, "exit 2", nil)
	status, ok := ExitStatus(err)
	if !ok || status != 2 {
		t.Fatalf("exit 2 gave %v", err)
	}
	if !strings.Contains(err.Error(), "bye") {
		t.Fatalf("stderr missing from %q", err)
	}
}

func TestSSHKillIsPromptAndIdempotent(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv.config(t))

	p, err := c.Start(context.Background(), "sleep")
	if err != nil {
		t.Fatal(err)
	}
	waitC := make(chan error, 1)
	go func() { waitC <- p.Wait() }()

	p.Kill()
	p.Kill()
	select {
	case <-waitC:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Kill")
	}
}

func TestSSHStartCancelledByContext(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv.config(t))

	ctx, cancel := context.WithCancel(context.Background())
	p, err := c.Start(ctx, "sleep")
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process survived context cancellation")
	}
}

func TestSSHDoneOnHangup(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv.config(t))

	_, err := c.Run(context.Background(), "hangup", nil)
	if err == nil {
		t.Fatal("hangup returned no error")
	}
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after the peer hung up")
	}
	if _, err := c.Run(context.Background(), "cat", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Run on dead conn = %v, want ErrClosed", err)
	}
}

func TestSSHWrongPassword(t *testing.T) {
	srv := startServer(t)
	cfg := srv.config(t)
	cfg.Password = "nope"
	if _, err := NewSSHDialer(cfg, zaptest.NewLogger(t)).Dial(context.Background()); err == nil {
		t.Fatal("dial with wrong password succeeded")
	}
}

func TestSSHKnownHosts(t *testing.T) {
	srv := startServer(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, srv.hostKey.PublicKey())
	if err := os.WriteFile(good, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := srv.config(t)
	cfg.KnownHosts = good
	dial(t, cfg)

	_, other, _ := ed25519.GenerateKey(rand.Reader)
	otherSigner, _ := ssh.NewSignerFromKey(other)
	bad := filepath.Join(dir, "bad")
	line = knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, otherSigner.PublicKey())
	if err := os.WriteFile(bad, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.KnownHosts = bad
	if _, err := NewSSHDialer(cfg, zaptest.NewLogger(t)).Dial(context.Background()); err == nil {
		t.Fatal("dial accepted a mismatched host key")
	}
}

func TestSSHNoAuthConfigured(t *testing.T) {
	_, err := NewSSHDialer(SSHConfig{Host: "127.0.0.1"}, zaptest.NewLogger(t)).Dial(context.Background())
	if err == nil || !strings.Contains(err.Error(), "auth") {
		t.Fatalf("err = %v", err)
	}
}
