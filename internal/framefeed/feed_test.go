package framefeed

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 2, 2))
}

func TestPublishThenConsume(t *testing.T) {
	feed := New()
	feed.Publish(testImage())

	frame := <-feed.Frames()
	assert.Equal(t, int64(1), frame.Sequence)
	assert.NotNil(t, frame.Image)
}

func TestPublishKeepsOnlyLatest(t *testing.T) {
	feed := New()
	feed.Publish(testImage())
	feed.Publish(testImage())
	feed.Publish(testImage())

	frame := <-feed.Frames()
	assert.Equal(t, int64(3), frame.Sequence, "queued frame must be the most recent one")

	stats := feed.Stats()
	assert.Equal(t, int64(3), stats.Published)
	assert.Equal(t, int64(2), stats.Dropped)
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	feed := New()
	feed.Close()

	assert.NotPanics(t, func() { feed.Publish(testImage()) })

	stats := feed.Stats()
	assert.Zero(t, stats.Published)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestCloseEndsConsumerLoop(t *testing.T) {
	feed := New()
	feed.Publish(testImage())
	feed.Close()
	feed.Close() // idempotent

	var seen int
	for range feed.Frames() {
		seen++
	}
	require.Equal(t, 1, seen)
}
