// Package framefeed hands camera frames to the analysis loop with
// keep-only-latest backpressure: at most one frame is ever queued, and a
// frame arriving while the previous one is still waiting replaces it.
package framefeed

import (
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one captured image with arrival metadata.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
	Sequence  int64
}

// Stats reports feed throughput.
type Stats struct {
	Published int64
	Dropped   int64
}

// Feed is a single-slot frame queue between the capture callback and the
// detection loop.
type Feed struct {
	frames chan Frame
	seq    atomic.Int64

	published atomic.Int64
	dropped   atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// New creates an empty feed.
func New() *Feed {
	return &Feed{frames: make(chan Frame, 1)}
}

// Publish offers a frame to the analysis loop. If the previous frame has not
// been consumed yet it is dropped in favor of this one. A frame published
// after Close is counted as dropped; capture may still be winding down when
// the feed shuts.
func (f *Feed) Publish(img image.Image) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.dropped.Add(1)
		return
	}

	frame := Frame{
		Image:     img,
		Timestamp: time.Now(),
		Sequence:  f.seq.Add(1),
	}

	for {
		select {
		case f.frames <- frame:
			f.published.Add(1)
			return
		default:
			select {
			case <-f.frames:
				f.dropped.Add(1)
			default:
			}
		}
	}
}

// Frames returns the consumer channel. Closed by Close.
func (f *Feed) Frames() <-chan Frame {
	return f.frames
}

// Close ends the feed. Idempotent.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.frames)
}

// Stats returns cumulative publish and drop counts.
func (f *Feed) Stats() Stats {
	return Stats{
		Published: f.published.Load(),
		Dropped:   f.dropped.Load(),
	}
}
