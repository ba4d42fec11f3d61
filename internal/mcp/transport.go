// File: internal/mcp/transport.go
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Transport moves newline-delimited JSON documents to and from a tool server.
type Transport interface {
	// WriteLine sends one document. The newline terminator is appended.
	WriteLine(ctx context.Context, line []byte) error
	// ReadLine returns the next non-empty line, waiting at most timeout.
	// A non-positive timeout waits until ctx is done.
	ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error)
	// Close releases the underlying resources. It is safe to call more than once.
	Close(ctx context.Context) error
}

// StreamTransport frames documents over an arbitrary reader/writer pair.
// A single goroutine pumps lines from the reader so that reads can time out.
type StreamTransport struct {
	w       io.WriteCloser
	rc      io.Closer
	writeMu sync.Mutex

	lines   chan []byte
	stop    chan struct{}
	done    chan struct{}
	readErr error

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStreamTransport starts pumping r. If r implements io.Closer it is
// closed by Close to unblock the pump.
func NewStreamTransport(r io.Reader, w io.WriteCloser) *StreamTransport {
	t := &StreamTransport{
		w:      w,
		lines:  make(chan []byte, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		t.rc = c
	}
	go t.pump(r)
	return t
}

func (t *StreamTransport) pump(r io.Reader) {
	defer close(t.done)
	// Screenshot payloads run to megabytes, so lines are read without a size cap.
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) > 0 {
			select {
			case t.lines <- line:
			case <-t.stop:
				t.readErr = io.ErrClosedPipe
				return
			}
		}
		if err != nil {
			t.readErr = err
			return
		}
	}
}

// WriteLine implements Transport.
func (t *StreamTransport) WriteLine(ctx context.Context, line []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrNotRunning
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := t.w.Write(buf); err != nil {
		return fmt.Errorf("%w: write failed: %v", ErrNotRunning, err)
	}
	return nil
}

// ReadLine implements Transport.
func (t *StreamTransport) ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case line := <-t.lines:
		return line, nil
	case <-t.done:
		select {
		case line := <-t.lines:
			return line, nil
		default:
		}
		if t.readErr == nil || errors.Is(t.readErr, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrNotRunning, ErrEmptyResponse)
		}
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, t.readErr)
	case <-timeoutC:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Transport.
func (t *StreamTransport) Close(ctx context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		close(t.stop)
		t.writeMu.Lock()
		err = t.w.Close()
		t.writeMu.Unlock()
		if t.rc != nil {
			if cerr := t.rc.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// Done is closed once the read side has reached EOF or failed.
func (t *StreamTransport) Done() <-chan struct{} { return t.done }
