package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorcha-inc/mcpbridge/internal/core"
)

const testServer = "test-server"

// failingWriter fails every write.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

// failingReader fails every read.
type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) {
	return 0, r.err
}

// safeBuffer is a strings.Builder guarded by a mutex.
type safeBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestChannel_WritesOneCompactLine(t *testing.T) {
	var stdin safeBuffer
	c := NewChannel(testServer, &stdin, strings.NewReader("{\"result\":\"ok\"}\n"), time.Second)
	defer c.Close()

	payload := map[string]any{"mcp": "search\nfor cats", "nested": map[string]int{"n": 1}}
	reply, err := c.Query(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, `{"result":"ok"}`, reply)

	written := stdin.String()
	assert.Equal(t, `{"mcp":"search\nfor cats","nested":{"n":1}}`+"\n", written)
	assert.Equal(t, 1, strings.Count(written, "\n"), "the payload never contains a raw newline")
}

func TestChannel_ReplyTerminators(t *testing.T) {
	c := NewChannel(testServer, io.Discard, strings.NewReader("crlf\r\nlast-without-newline"), time.Second)
	defer c.Close()

	reply, err := c.Query(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "crlf", reply)

	reply, err = c.Query(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "last-without-newline", reply)

	_, err = c.Query(context.Background(), "c")
	assert.ErrorIs(t, err, core.ErrEOF)
}

func TestChannel_BlankLineIsProtocolViolation(t *testing.T) {
	for _, blank := range []string{"\n", "   \n", "\t\r\n"} {
		t.Run(fmt.Sprintf("%q", blank), func(t *testing.T) {
			c := NewChannel(testServer, io.Discard, strings.NewReader(blank+"{\"ok\":true}\n"), time.Second)
			defer c.Close()

			_, err := c.Query(context.Background(), "first")
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrProtocolViolation)

			reply, err := c.Query(context.Background(), "second")
			require.NoError(t, err)
			assert.Equal(t, `{"ok":true}`, reply)
		})
	}
}

func TestChannel_EOFIsSticky(t *testing.T) {
	c := NewChannel(testServer, io.Discard, strings.NewReader(""), time.Second)
	defer c.Close()

	assert.False(t, c.EOF())
	for range 3 {
		_, err := c.Query(context.Background(), "ping")
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrEOF)
	}
	assert.True(t, c.EOF())
}

func TestChannel_ReadError(t *testing.T) {
	c := NewChannel(testServer, io.Discard, failingReader{err: errors.New("read failed")}, time.Second)
	defer c.Close()

	_, err := c.Query(context.Background(), "ping")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrIO)
	assert.Contains(t, err.Error(), "read failed")

	_, err = c.Query(context.Background(), "ping")
	assert.ErrorIs(t, err, core.ErrEOF)
}

func TestChannel_WriteFailureSkipsRead(t *testing.T) {
	c := NewChannel(testServer, failingWriter{}, strings.NewReader("pending\n"), time.Second)
	defer c.Close()

	_, err := c.Query(context.Background(), "ping")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrIO)
	assert.Equal(t, "flush request", err.(*core.Error).Op)

	select {
	case result := <-c.lines:
		assert.Equal(t, "pending", result.line, "the reply line was left unread")
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not offer the pending line")
	}
}

func TestChannel_TimeoutWithFakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stdoutReader, stdoutWriter := io.Pipe()
	defer func() {
		_ = stdoutWriter.Close()
	}()

	c := NewChannelWithClock(testServer, io.Discard, stdoutReader, 30*time.Second, clock)
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Query(context.Background(), "slow")
		errCh <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(30 * time.Second)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrTimeout)
	case <-ctx.Done():
		t.Fatal("query did not time out")
	}

	// A reply that arrives late is delivered to the next query.
	go func() {
		_, _ = stdoutWriter.Write([]byte("late reply\n"))
	}()
	reply, err := c.Query(context.Background(), "next")
	require.NoError(t, err)
	assert.Equal(t, "late reply", reply)
}

func TestChannel_ContextDeadlineWhileWaitingIsTimeout(t *testing.T) {
	stdoutReader, stdoutWriter := io.Pipe()
	defer func() {
		_ = stdoutWriter.Close()
	}()

	c := NewChannel(testServer, io.Discard, stdoutReader, time.Minute)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Query(ctx, "ping")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannel_CallerLeavesQueueWithoutWriting(t *testing.T) {
	var stdin safeBuffer
	c := NewChannel(testServer, &stdin, strings.NewReader(""), time.Second)
	defer c.Close()

	require.NoError(t, c.sem.Acquire(context.Background(), 1))
	defer c.sem.Release(1)

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := c.Query(ctx, "queued")
		assert.ErrorIs(t, err, core.ErrTimeout)
	})

	t.Run("cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Query(ctx, "queued")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, core.KindOf(err))
	})

	assert.Empty(t, stdin.String())
	assert.Zero(t, c.writer.Buffered())
}

func TestChannel_CloseReleasesWaitingQuery(t *testing.T) {
	stdoutReader, stdoutWriter := io.Pipe()
	defer func() {
		_ = stdoutWriter.Close()
	}()

	c := NewChannel(testServer, io.Discard, stdoutReader, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Query(context.Background(), "ping")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.Close()
	c.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, core.ErrEOF)
	case <-time.After(5 * time.Second):
		t.Fatal("query was not released by Close")
	}
}

func TestChannel_UnencodablePayload(t *testing.T) {
	var stdin safeBuffer
	c := NewChannel(testServer, &stdin, strings.NewReader(""), time.Second)
	defer c.Close()

	_, err := c.Query(context.Background(), make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to encode query")
	assert.Empty(t, stdin.String())
}
