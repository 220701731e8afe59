// Package transcript provides the scoped log sink that records git and test
// command output of one invocation.
package transcript

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	bufferSize    = 256 * 1024
	flushInterval = 5 * time.Second
)

var ErrClosed = errors.New("transcript sink is closed")

// Sink is a buffered writer for the transcript of an invocation.
// All data written to it is optionally mirrored to a console writer.
// Close must be called on every exit path, it flushes the buffer.
type Sink struct {
	mu      sync.Mutex
	ws      *zapcore.BufferedWriteSyncer
	closer  io.Closer
	console io.Writer
	closed  bool
}

// Open creates or truncates the file at path and returns a Sink writing to
// it. If console is not nil, everything is also written to console.
func Open(path string, console io.Writer) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	s := New(f, console)
	s.closer = f

	return s, nil
}

// New returns a Sink writing to w. Close does not close w.
func New(w io.Writer, console io.Writer) *Sink {
	return &Sink{
		ws: &zapcore.BufferedWriteSyncer{
			WS:            zapcore.AddSync(w),
			Size:          bufferSize,
			FlushInterval: flushInterval,
		},
		console: console,
	}
}

// Write writes raw command output.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	if s.console != nil {
		// console output is best effort
		_, _ = s.console.Write(p)
	}

	return s.ws.Write(p)
}

// Logf writes a "> " prefixed message line.
func (s *Sink) Logf(format string, args ...any) {
	_, _ = fmt.Fprintf(s, "> "+format+"\n", args...)
}

// Close flushes buffered data and closes the underlying file.
// Calling Close multiple times is safe, only the first call has an effect.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.ws.Stop()

	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}

	return err
}
