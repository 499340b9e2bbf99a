// Package audio implements the ambient-sound secondary detector armed in
// night mode: a simple amplitude threshold over raw microphone samples.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultThreshold     = 2000
	defaultCheckInterval = 100 * time.Millisecond
	defaultCooldown      = 5 * time.Second
)

// SampleSource yields chunks of signed 16-bit PCM samples. Close releases
// the underlying capture device.
type SampleSource interface {
	ReadChunk(ctx context.Context) ([]int16, error)
	Close() error
}

// SourceFactory opens the capture device. Called on every Start so Stop can
// fully release the microphone between runs.
type SourceFactory func() (SampleSource, error)

// Config tunes the detector.
type Config struct {
	Threshold     int           // peak amplitude that counts as a sound event
	CheckInterval time.Duration // pause between chunk reads
	Cooldown      time.Duration // pause after each fired event
}

// DefaultConfig returns the stock detector tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:     defaultThreshold,
		CheckInterval: defaultCheckInterval,
		Cooldown:      defaultCooldown,
	}
}

// Detector watches a sample source and fires a callback whenever the peak
// amplitude of a chunk crosses the threshold. At most one run is active; a
// second Start while running is a no-op.
type Detector struct {
	cfg     Config
	sources SourceFactory
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDetector builds a detector over the given source factory.
func NewDetector(cfg Config, sources SourceFactory, logger *zap.Logger) *Detector {
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &Detector{cfg: cfg, sources: sources, logger: logger.Named("sound-detector")}
}

// Start opens the capture device and begins listening. onSound runs on the
// detector goroutine once per threshold crossing, rate-limited by the
// cooldown.
func (d *Detector) Start(ctx context.Context, onSound func()) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}

	source, err := d.sources()
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("opening sample source: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.running = true
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go d.listen(runCtx, source, onSound, done)
	return nil
}

func (d *Detector) listen(ctx context.Context, source SampleSource, onSound func(), done chan struct{}) {
	defer close(done)
	defer func() {
		if err := source.Close(); err != nil {
			d.logger.Warn("closing sample source", zap.Error(err))
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		chunk, err := source.ReadChunk(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			d.logger.Error("sample read failed", zap.Error(err))
			return
		}

		if peak(chunk) > d.cfg.Threshold {
			d.logger.Debug("sound detected", zap.Int("amplitude", peak(chunk)))
			onSound()
			if !sleep(ctx, d.cfg.Cooldown) {
				return
			}
		}

		if !sleep(ctx, d.cfg.CheckInterval) {
			return
		}
	}
}

// Stop halts listening and releases the capture device. Idempotent.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	done := d.done
	d.running = false
	d.cancel = nil
	d.done = nil
	d.mu.Unlock()

	cancel()
	<-done
	d.logger.Debug("sound detector stopped")
}

func peak(chunk []int16) int {
	max := 0
	for _, s := range chunk {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > max {
			max = v
		}
	}
	return max
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
