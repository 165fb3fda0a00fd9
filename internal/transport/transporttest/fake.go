// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/alvesvaren/rm-pad/internal/transport"
)

// RunFunc answers a Conn.Run call.
type RunFunc func(cmd string, stdin []byte) ([]byte, error)

// Dialer hands out fake connections. Every connection shares the Dialer's
// handlers so a test can script the tablet once.
type Dialer struct {
	mu      sync.Mutex
	run     RunFunc
	dialErr error
	conns   []*Conn
	started chan *Proc
}

func NewDialer(run RunFunc) *Dialer {
	if run == nil {
		run = func(string, []byte) ([]byte, error) { return nil, nil }
	}
	return &Dialer{run: run, started: make(chan *Proc, 256)}
}

// FailDials makes subsequent dials return err until called with nil.
func (d *Dialer) FailDials(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := &Conn{d: d, done: make(chan struct{})}
	d.conns = append(d.conns, c)
	return c, nil
}

// Dials reports how many connections were established.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Last returns the most recent connection.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Started delivers every process as it is started.
func (d *Dialer) Started() <-chan *Proc { return d.started }

// Conn is a fake connection.
type Conn struct {
	d *Dialer

	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	procs    []*Proc
	commands []string
}

func (c *Conn) Run(ctx context.Context, cmd string, stdin io.Reader) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var in []byte
	if stdin != nil {
		var err error
		if in, err = io.ReadAll(stdin); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrClosed
	}
	c.commands = append(c.commands, cmd)
	c.mu.Unlock()
	return c.d.run(cmd, in)
}

func (c *Conn) Start(ctx context.Context, cmd string) (transport.Process, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrClosed
	}
	pr, pw := io.Pipe()
	p := &Proc{Cmd: cmd, conn: c, r: pr, w: pw, exited: make(chan struct{})}
	c.procs = append(c.procs, p)
	c.commands = append(c.commands, cmd)
	c.mu.Unlock()

	context.AfterFunc(ctx, p.Kill)
	c.d.started <- p
	return p, nil
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Close() error {
	c.Drop()
	return nil
}

// Drop simulates the link going away: every process loses its stream
// without an exit status.
func (c *Conn) Drop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	procs := c.procs
	close(c.done)
	c.mu.Unlock()
	for _, p := range procs {
		p.finish(fmt.Errorf("%q: %w", p.Cmd, transport.ErrClosed))
	}
}

// Commands lists every command run or started on c, in order.
func (c *Conn) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

// Closed reports whether Close or Drop was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Proc is a fake remote process. Tests write its stdout with Write and end
// it with Exit.
type Proc struct {
	Cmd  string
	conn *Conn
	r    *io.PipeReader
	w    *io.PipeWriter

	mu     sync.Mutex
	killed bool
	err    error
	exited chan struct{}
}

func (p *Proc) Stdout() io.Reader { return p.r }

// Write feeds bytes to the process's stdout. It blocks until they are read.
func (p *Proc) Write(b []byte) error {
	_, err := io.Copy(p.w, bytes.NewReader(b))
	return err
}

// Exit ends the process with status. Status 0 is a clean exit.
func (p *Proc) Exit(status int) {
	var err error
	if status != 0 {
		err = &transport.ExitError{Cmd: p.Cmd, Status: status}
	}
	p.finish(err)
}

func (p *Proc) finish(err error) {
	p.mu.Lock()
	select {
	case <-p.exited:
		p.mu.Unlock()
		return
	default:
	}
	p.err = err
	close(p.exited)
	p.mu.Unlock()
	if err != nil {
		p.w.CloseWithError(err)
	} else {
		p.w.Close()
	}
}

func (p *Proc) Wait() error {
	<-p.exited
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Kill ends the process as a signal would: no exit status.
func (p *Proc) Kill() {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.finish(fmt.Errorf("%q: killed: %w", p.Cmd, transport.ErrClosed))
}

// Killed reports whether Kill was called.
func (p *Proc) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Exited is closed when the process has ended.
func (p *Proc) Exited() <-chan struct{} { return p.exited }

// HasArg reports whether the command line contains arg as a word.
func (p *Proc) HasArg(arg string) bool {
	for _, f := range strings.Fields(p.Cmd) {
		if f == arg {
			return true
		}
	}
	return false
}
