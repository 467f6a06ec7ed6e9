// Package scan feeds decoded QR frames into the provisioning session.
package scan

import (
	"bufio"
	"context"
	"io"
)

// FrameSource yields decoded QR text, one frame per call. Next returns
// io.EOF once the source is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (string, error)
}

// LineSource treats every line of a reader as one frame, e.g. the output
// of a barcode decoder piped to stdin or written to a FIFO.
type LineSource struct {
	lines chan string
	err   error
}

var _ FrameSource = (*LineSource)(nil)

// NewLineSource starts reading r in the background. The reader goroutine
// blocks until each line is consumed and exits when r is exhausted.
func NewLineSource(r io.Reader) *LineSource {
	s := &LineSource{lines: make(chan string)}
	go func() {
		defer close(s.lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			s.lines <- sc.Text()
		}
		s.err = sc.Err()
		if s.err == nil {
			s.err = io.EOF
		}
	}()
	return s
}

// Next blocks until a line is available or ctx is done.
func (s *LineSource) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text, ok := <-s.lines:
		if !ok {
			return "", s.err
		}
		return text, nil
	}
}
