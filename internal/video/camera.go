// Package video pulls frames from an MJPEG-over-HTTP camera and publishes
// them to the frame feed.
package video

import (
	"context"
	"fmt"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/framefeed"
)

// Camera streams a multipart MJPEG endpoint into a Feed. StartCapture and
// StopCapture satisfy the session's camera controller; a dropped connection
// is retried with exponential backoff until StopCapture.
type Camera struct {
	url    string
	client *http.Client
	feed   *framefeed.Feed
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCamera builds a camera over the given MJPEG URL.
func NewCamera(url string, feed *framefeed.Feed, logger *zap.Logger) *Camera {
	return &Camera{
		url:    url,
		client: &http.Client{},
		feed:   feed,
		logger: logger.Named("camera"),
	}
}

// StartCapture begins pulling frames. A second call while running is a
// no-op.
func (c *Camera) StartCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		c.run(ctx)
	}()
	c.logger.Info("capture started", zap.String("url", c.url))
}

// StopCapture halts the pull loop. Idempotent.
func (c *Camera) StopCapture() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Info("capture stopped")
}

// newReconnectBackOff builds the retry policy for a dropped stream.
// MaxElapsedTime is zeroed so an outage of any length keeps being retried
// until StopCapture.
func newReconnectBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	return bo
}

func (c *Camera) run(ctx context.Context) {
	policy := backoff.WithContext(newReconnectBackOff(), ctx)
	op := func() error {
		err := c.pull(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("camera stream interrupted", zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(op, policy); err != nil && ctx.Err() == nil {
		c.logger.Error("camera stream abandoned", zap.Error(err))
	}
}

// pull reads one streaming response, publishing each part as a frame.
func (c *Camera) pull(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera returned status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("parsing content type: %w", err))
	}
	if mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		return backoff.Permanent(fmt.Errorf("unexpected content type %q", mediaType))
	}

	reader := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err != nil {
			return err
		}
		img, err := jpeg.Decode(part)
		part.Close()
		if err != nil {
			c.logger.Debug("skipping undecodable frame", zap.Error(err))
			continue
		}
		c.feed.Publish(img)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
