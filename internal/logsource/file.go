package logsource

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// StdinName is the path that selects standard input.
const StdinName = "-"

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Open starts a source for path. "-" reads stdin. Gzip and zstd inputs are
// detected by their magic bytes and decompressed transparently.
func Open(ctx context.Context, path string, conf ...Config) (*ReaderSource, error) {
	if path == StdinName {
		r, err := decompress(os.Stdin, nopCloser{})
		if err != nil {
			return nil, fmt.Errorf("stdin: %w", err)
		}
		return NewReaderSource(ctx, "stdin", r, conf...), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	r, err := decompress(f, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewReaderSource(ctx, path, r, conf...), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// multiCloser closes the decoder and then the underlying file.
type multiCloser struct {
	io.Reader
	closers []func() error
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func decompress(src io.Reader, underlying io.Closer) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(src, 64*1024)
	head, _ := br.Peek(4)

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &multiCloser{Reader: zr, closers: []func() error{zr.Close, underlying.Close}}, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return &multiCloser{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			underlying.Close,
		}}, nil
	}
	return &multiCloser{Reader: br, closers: []func() error{underlying.Close}}, nil
}
