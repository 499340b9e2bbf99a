// Package coordinator is the per-frame decision engine: given a batch of
// detection results it decides, through four independent cooldown gates,
// whether to sound the alert, push a notification, persist detection
// records, and send an email digest.
package coordinator

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/imagestore"
	"github.com/yashwanth-gh/overlook/internal/models"
)

const maxConcurrentSaves = 4

// Alerter plays the local person-detected alert sound.
type Alerter interface {
	PlayPersonAlert()
}

// Notifier is the slice of the dispatcher the coordinator fires.
type Notifier interface {
	NotifyOverlookers(ctx context.Context, surveillanceID, title, body string)
	EmailDigest(ctx context.Context, device *models.SurveillanceDevice, detections []models.DetectionResult, snapshot image.Image)
}

// DetectionSaver persists one detection record.
type DetectionSaver interface {
	PutDetection(ctx context.Context, surveillanceID string, detection models.Detection) error
}

// SnapshotUploader stores a frame JPEG and returns its URL.
type SnapshotUploader interface {
	UploadJPEG(ctx context.Context, key string, data []byte) (string, error)
}

// gate is one independent rate limiter. Zero lastFired means never fired, so
// the first qualifying event always passes.
type gate struct {
	interval  time.Duration
	lastFired time.Time
}

// tryFire reports whether the gate opens at now, updating the last-fired
// timestamp to now when it does.
func (g *gate) tryFire(now time.Time) bool {
	if now.Sub(g.lastFired) >= g.interval {
		g.lastFired = now
		return true
	}
	return false
}

// Coordinator holds the four gates and the collaborators their actions
// reach. All gate state is in-memory only; a restart resets every cooldown
// to "never fired".
type Coordinator struct {
	surveillanceID string
	alerter        Alerter
	notifier       Notifier
	saver          DetectionSaver
	uploader       SnapshotUploader
	logger         *zap.Logger

	mu           sync.Mutex
	sound        gate
	notification gate
	save         gate
	email        gate
	device       *models.SurveillanceDevice

	now func() time.Time
	wg  sync.WaitGroup
}

// New builds a coordinator with the given cooldown settings. The uploader
// may be nil; detections are then saved without snapshots.
func New(surveillanceID string, settings models.Settings, alerter Alerter, notifier Notifier, saver DetectionSaver, uploader SnapshotUploader, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		surveillanceID: surveillanceID,
		alerter:        alerter,
		notifier:       notifier,
		saver:          saver,
		uploader:       uploader,
		logger:         logger.Named("coordinator"),
		sound:          gate{interval: settings.SoundInterval},
		notification:   gate{interval: settings.NotificationInterval},
		save:           gate{interval: settings.SaveInterval},
		email:          gate{interval: settings.EmailInterval},
		now:            time.Now,
	}
}

// ApplySettings updates the gate intervals live. Last-fired timestamps are
// kept.
func (c *Coordinator) ApplySettings(settings models.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sound.interval = settings.SoundInterval
	c.notification.interval = settings.NotificationInterval
	c.save.interval = settings.SaveInterval
	c.email.interval = settings.EmailInterval
}

// SetDeviceSnapshot caches the device record used by the email digest.
func (c *Coordinator) SetDeviceSnapshot(device *models.SurveillanceDevice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.device = device
}

// HandleDetections is called once per analyzed frame. Results without a
// person label are ignored. The four gates are evaluated independently on
// every call, and each action that fires runs as its own task so a slow
// email send never delays the save path or the next frame's sound check.
func (c *Coordinator) HandleDetections(ctx context.Context, results []models.DetectionResult, frame image.Image) {
	if len(results) == 0 {
		return
	}

	var persons []models.DetectionResult
	for _, r := range results {
		if r.IsPerson() {
			persons = append(persons, r)
		}
	}
	if len(persons) == 0 {
		return
	}

	now := c.now()

	c.mu.Lock()
	fireSound := c.sound.tryFire(now)
	fireNotification := c.notification.tryFire(now)
	fireSave := c.save.tryFire(now)
	fireEmail := c.email.tryFire(now)
	device := c.device
	c.mu.Unlock()

	if fireSound {
		c.spawn(func() { c.alerter.PlayPersonAlert() })
	}

	if fireNotification {
		body := fmt.Sprintf("%d person(s) detected by the surveillance device.", len(persons))
		c.spawn(func() {
			c.notifier.NotifyOverlookers(ctx, c.surveillanceID, "Person Detected!", body)
		})
	}

	if fireSave {
		c.saveDetections(ctx, persons, frame, now)
	}

	if fireEmail {
		c.spawn(func() {
			c.notifier.EmailDigest(ctx, device, persons, frame)
		})
	}
}

// saveDetections persists every filtered detection of the frame. The saves
// run concurrently under a bounded group; a failure on one is logged and
// never cancels its siblings.
func (c *Coordinator) saveDetections(ctx context.Context, persons []models.DetectionResult, frame image.Image, now time.Time) {
	var snapshot []byte
	if frame != nil && c.uploader != nil {
		data, err := imagestore.EncodeJPEG(frame, imagestore.SnapshotJPEGQuality)
		if err != nil {
			c.logger.Error("snapshot encode failed", zap.Error(err))
		} else {
			snapshot = data
		}
	}

	sem := make(chan struct{}, maxConcurrentSaves)
	for _, person := range persons {
		person := person
		c.spawn(func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			c.saveOne(ctx, person, snapshot, now)
		})
	}
}

func (c *Coordinator) saveOne(ctx context.Context, person models.DetectionResult, snapshot []byte, now time.Time) {
	detection := models.Detection{
		ID:          models.NewDetectionID(),
		Timestamp:   now.UnixMilli(),
		Label:       person.Label,
		Confidence:  person.Confidence,
		BoundingBox: person.Box,
	}

	if snapshot != nil {
		key := fmt.Sprintf("detection_images/detection_image_%s.jpg", detection.ID)
		url, err := c.uploader.UploadJPEG(ctx, key, snapshot)
		if err != nil {
			c.logger.Error("snapshot upload failed",
				zap.String("detection_id", detection.ID),
				zap.Error(err))
			return
		}
		detection.ImagePath = &url
	}

	if err := c.saver.PutDetection(ctx, c.surveillanceID, detection); err != nil {
		c.logger.Error("detection save failed",
			zap.String("detection_id", detection.ID),
			zap.Error(err))
		return
	}
	c.logger.Debug("detection saved", zap.String("detection_id", detection.ID))
}

func (c *Coordinator) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Wait blocks until every in-flight gate action has finished. Called on
// session shutdown and by tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
