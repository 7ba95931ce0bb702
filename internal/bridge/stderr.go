package bridge

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// LineSink receives diagnostic lines a server writes to stderr.
type LineSink interface {
	Line(server string, line string)
}

// ZapSink forwards stderr lines to zap's global logger
type ZapSink struct{}

func (ZapSink) Line(server string, line string) {
	zap.L().Info("MCP server stderr", zap.String("server", server), zap.String("line", line))
}

// Interface guard
var _ LineSink = ZapSink{}

// StderrMonitor drains a server's stderr into a LineSink until the stream ends.
type StderrMonitor struct {
	server string
	reader io.Reader
	sink   LineSink
	done   chan struct{}
	once   sync.Once
	err    error
}

// NewStderrMonitor creates a monitor for reader. A nil sink logs through zap.
func NewStderrMonitor(server string, reader io.Reader, sink LineSink) *StderrMonitor {
	if sink == nil {
		sink = ZapSink{}
	}
	return &StderrMonitor{
		server: server,
		reader: reader,
		sink:   sink,
		done:   make(chan struct{}),
	}
}

// Start begins draining in a background goroutine. Calling it twice has no effect.
func (m *StderrMonitor) Start() {
	m.once.Do(func() {
		go m.run()
	})
}

// Done is closed once the monitor has stopped.
func (m *StderrMonitor) Done() <-chan struct{} {
	return m.done
}

// Err returns the read error that stopped the monitor, nil after a clean end of stream.
// It is only meaningful once Done is closed.
func (m *StderrMonitor) Err() error {
	return m.err
}

func (m *StderrMonitor) run() {
	defer close(m.done)

	reader := bufio.NewReader(m.reader)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			m.sink.Line(m.server, trimTerminator(line))
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			zap.L().Debug("MCP server stderr closed", zap.String("server", m.server))
			return
		}
		m.err = err
		zap.L().Error("Failed to read MCP server stderr", zap.String("server", m.server), zap.Error(err))
		return
	}
}

// trimTerminator strips one trailing line terminator.
func trimTerminator(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
