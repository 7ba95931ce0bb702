package bridge

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// recordingSink collects stderr lines as "server: line".
type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) Line(server string, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, server+": "+line)
}

func (s *recordingSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestStderrMonitor_ForwardsTaggedLines(t *testing.T) {
	sink := &recordingSink{}
	monitor := NewStderrMonitor("brave-search", strings.NewReader("starting\r\nlistening on stdio\n\nno newline"), sink)
	monitor.Start()
	monitor.Start()

	waitDone(t, monitor.Done())
	require.NoError(t, monitor.Err())
	assert.Equal(t, []string{
		"brave-search: starting",
		"brave-search: listening on stdio",
		"brave-search: ",
		"brave-search: no newline",
	}, sink.Lines())
}

func TestStderrMonitor_StopsOnReadError(t *testing.T) {
	readErr := errors.New("stderr exploded")
	sink := &recordingSink{}
	monitor := NewStderrMonitor("brave-search", io.MultiReader(strings.NewReader("before\n"), failingReader{err: readErr}), sink)
	monitor.Start()

	waitDone(t, monitor.Done())
	assert.ErrorIs(t, monitor.Err(), readErr)
	assert.Equal(t, []string{"brave-search: before"}, sink.Lines())
}

func TestStderrMonitor_DefaultSinkLogs(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	monitor := NewStderrMonitor("filesystem", strings.NewReader("warning: cache miss\n"), nil)
	monitor.Start()
	waitDone(t, monitor.Done())

	entries := recorded.FilterMessage("MCP server stderr").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "filesystem", fields["server"])
	assert.Equal(t, "warning: cache miss", fields["line"])
}
