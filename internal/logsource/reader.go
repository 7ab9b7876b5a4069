package logsource

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tinytelemetry/accesslens/internal/model"
)

const (
	// DefaultBuffer is the default channel buffer size for lines.
	DefaultBuffer = 4096

	// DefaultMaxLineSize is the default maximum size (in bytes) of a single line.
	DefaultMaxLineSize = 1024 * 1024 // 1MB
)

// Config holds tunable parameters for reader-backed sources.
type Config struct {
	BufferSize  int
	MaxLineSize int
}

// ReaderSource emits every line of an io.Reader, blank lines included, in order.
// A line longer than MaxLineSize is emitted truncated and marked Oversized;
// reading continues with the next line.
type ReaderSource struct {
	name   string
	ch     chan model.IngestEnvelope
	cancel context.CancelFunc
	closer io.Closer
	once   sync.Once

	mu  sync.Mutex
	err error
}

// NewReaderSource starts reading r in a background goroutine. If r is an
// io.Closer it is closed when reading stops.
func NewReaderSource(ctx context.Context, name string, r io.Reader, conf ...Config) *ReaderSource {
	bufferSize := DefaultBuffer
	maxLineSize := DefaultMaxLineSize
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			bufferSize = conf[0].BufferSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &ReaderSource{
		name:   name,
		ch:     make(chan model.IngestEnvelope, bufferSize),
		cancel: cancel,
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	go s.read(ctx, r, maxLineSize)
	return s
}

func (s *ReaderSource) read(ctx context.Context, r io.Reader, maxLineSize int) {
	defer close(s.ch)
	defer s.closeReader()

	br := bufio.NewReaderSize(r, min(maxLineSize, 64*1024))
	var buf []byte
	lineNo := 0
	for {
		if ctx.Err() != nil {
			s.setErr(ctx.Err())
			return
		}
		raw, oversized, err := readLine(br, buf[:0], maxLineSize)
		buf = raw
		if len(raw) > 0 || oversized || err == nil {
			lineNo++
			env := model.IngestEnvelope{
				Source:    s.name,
				LineNo:    lineNo,
				Line:      strings.TrimRight(strings.TrimSuffix(string(raw), "\n"), "\r"),
				Oversized: oversized,
			}
			select {
			case s.ch <- env:
			case <-ctx.Done():
				s.setErr(ctx.Err())
				return
			}
		}
		if err != nil {
			switch {
			case ctx.Err() != nil:
				s.setErr(ctx.Err())
			case !errors.Is(err, io.EOF):
				s.setErr(fmt.Errorf("%s: %w", s.name, err))
			}
			return
		}
	}
}

// readLine reads up to and including the next newline. Bytes past
// maxLineSize are read and discarded, and the line is reported oversized.
func readLine(br *bufio.Reader, buf []byte, maxLineSize int) ([]byte, bool, error) {
	oversized := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversized {
			buf = append(buf, chunk...)
			if len(bytes.TrimSuffix(bytes.TrimSuffix(buf, []byte("\n")), []byte("\r"))) > maxLineSize {
				buf = buf[:maxLineSize]
				oversized = true
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, oversized, err
	}
}

func (s *ReaderSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *ReaderSource) closeReader() {
	s.once.Do(func() {
		if s.closer != nil {
			_ = s.closer.Close()
		}
	})
}

func (s *ReaderSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *ReaderSource) Name() string                       { return s.name }

// Stop cancels reading. A read blocked on a pipe returns at the next line or EOF.
func (s *ReaderSource) Stop() { s.cancel() }

func (s *ReaderSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
