// Package bridge runs an MCP server as a child process and exchanges
// single-line requests and replies with it over stdin and stdout.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dorcha-inc/mcpbridge/internal/core"
)

// readResult is one outcome of the stdout reader: a line or a read error.
type readResult struct {
	line string
	err  error
}

// Channel serializes queries to a server. At most one query owns the pipes at
// a time and waiting callers are admitted in arrival order.
//
// Replies carry no correlation id. A reply that arrives after its query timed
// out is handed to the next query.
type Channel struct {
	server  string
	writer  *bufio.Writer
	lines   chan readResult
	closed  chan struct{}
	sem     *semaphore.Weighted
	timeout time.Duration
	clock   clockwork.Clock

	eof       atomic.Bool
	closeOnce sync.Once
}

// NewChannel creates a channel writing queries to stdin and reading replies from stdout.
func NewChannel(server string, stdin io.Writer, stdout io.Reader, timeout time.Duration) *Channel {
	return NewChannelWithClock(server, stdin, stdout, timeout, clockwork.NewRealClock())
}

// NewChannelWithClock creates a channel with a custom clock
// This is useful for testing with a fake clock
func NewChannelWithClock(server string, stdin io.Writer, stdout io.Reader, timeout time.Duration, clock clockwork.Clock) *Channel {
	if timeout <= 0 {
		timeout = core.DefaultQueryTimeout
	}

	c := &Channel{
		server:  server,
		writer:  bufio.NewWriter(stdin),
		lines:   make(chan readResult),
		closed:  make(chan struct{}),
		sem:     semaphore.NewWeighted(1),
		timeout: timeout,
		clock:   clock,
	}

	go c.readLines(stdout)
	return c
}

// NewProcessChannel creates a channel bound to a running process's pipes.
func NewProcessChannel(process *RunningProcess, timeout time.Duration) *Channel {
	return NewChannel(process.server, process.stdin, process.stdout, timeout)
}

// readLines owns stdout for the lifetime of the channel. Lines are handed
// over one at a time; the lines channel is closed at end of stream.
func (c *Channel) readLines(stdout io.Reader) {
	defer close(c.lines)

	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if !c.deliver(readResult{line: trimTerminator(line)}) {
				return
			}
		}

		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return
		}

		c.deliver(readResult{err: err})
		return
	}
}

func (c *Channel) deliver(result readResult) bool {
	select {
	case c.lines <- result:
		return true
	case <-c.closed:
		return false
	}
}

// Query sends payload as one JSON line and waits for the server's reply line.
//
// Failures are classified as core.KindIO (write, flush or read failed),
// core.KindProtocolViolation (blank reply), core.KindEOF (the server closed
// stdout, this and every later query fail) and core.KindTimeout.
func (c *Channel) Query(ctx context.Context, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode query: %w", err)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", contextError(ctx, "wait for channel")
	}
	defer c.sem.Release(1)

	if c.eof.Load() {
		return "", core.NewError(core.KindEOF, "write request", io.EOF)
	}

	if _, err := c.writer.Write(data); err != nil {
		return "", core.NewError(core.KindIO, "write request", err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return "", core.NewError(core.KindIO, "write request", err)
	}
	if err := c.writer.Flush(); err != nil {
		return "", core.NewError(core.KindIO, "flush request", err)
	}

	timer := c.clock.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case result, ok := <-c.lines:
		if !ok {
			c.eof.Store(true)
			return "", core.NewError(core.KindEOF, "read reply", io.EOF)
		}
		if result.err != nil {
			return "", core.NewError(core.KindIO, "read reply", result.err)
		}
		if strings.TrimSpace(result.line) == "" {
			return "", core.NewError(core.KindProtocolViolation, "read reply", errors.New("server sent an empty line"))
		}
		return result.line, nil
	case <-timer.Chan():
		zap.L().Warn("MCP server did not reply in time",
			zap.String("server", c.server),
			zap.Duration("timeout", c.timeout))
		return "", core.NewError(core.KindTimeout, "read reply", fmt.Errorf("no reply within %v", c.timeout))
	case <-c.closed:
		return "", core.NewError(core.KindEOF, "read reply", errors.New("channel closed"))
	case <-ctx.Done():
		return "", contextError(ctx, "read reply")
	}
}

// EOF reports whether the server has closed its stdout.
func (c *Channel) EOF() bool {
	return c.eof.Load()
}

// Close releases the reader goroutine. A query waiting for a reply fails with core.KindEOF.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// contextError classifies a caller context that ended. A deadline counts as a timeout.
func contextError(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.NewError(core.KindTimeout, op, ctx.Err())
	}
	return fmt.Errorf("%s: %w", op, ctx.Err())
}
