package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const defaultChunkSamples = 1024

// ReaderSource adapts a raw little-endian 16-bit PCM stream, such as a FIFO
// fed by a capture tool, into a SampleSource.
type ReaderSource struct {
	r     io.ReadCloser
	chunk int
	buf   []byte
}

// NewReaderSource wraps a PCM stream. chunkSamples of zero selects the
// default chunk size.
func NewReaderSource(r io.ReadCloser, chunkSamples int) *ReaderSource {
	if chunkSamples <= 0 {
		chunkSamples = defaultChunkSamples
	}
	return &ReaderSource{
		r:     r,
		chunk: chunkSamples,
		buf:   make([]byte, chunkSamples*2),
	}
}

// ReadChunk fills one chunk of samples from the stream.
func (s *ReaderSource) ReadChunk(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := io.ReadFull(s.r, s.buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("reading pcm stream: %w", err)
	}
	samples := make([]int16, n/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(s.buf[i*2:]))
	}
	return samples, nil
}

// Close releases the underlying stream.
func (s *ReaderSource) Close() error {
	return s.r.Close()
}

// FileSourceFactory opens the named PCM stream, typically a FIFO, on every
// detector start so Stop releases the capture path completely.
func FileSourceFactory(path string, chunkSamples int) SourceFactory {
	return func() (SampleSource, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening pcm source %s: %w", path, err)
		}
		return NewReaderSource(f, chunkSamples), nil
	}
}
