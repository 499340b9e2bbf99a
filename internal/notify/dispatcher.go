// Package notify fans detection alerts out to paired overlookers: push
// notifications through the gateway and HTML email digests through the
// mail relay.
package notify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/models"
	"github.com/yashwanth-gh/overlook/internal/store"
)

// TokenStore is the slice of the store the dispatcher reads.
type TokenStore interface {
	GetOverlookers(ctx context.Context, surveillanceID string) ([]models.Overlooker, error)
	GetToken(ctx context.Context, deviceID string) (string, error)
}

// Sender delivers one push notification to one addressing token.
type Sender interface {
	Send(ctx context.Context, token, title, body string) error
}

// DigestSender posts one email digest to the relay.
type DigestSender interface {
	Send(ctx context.Context, recipients []string, subject, htmlBody string, snapshot image.Image) error
}

// Dispatcher coordinates push and email side effects for a surveillance
// device. Every failure here is best-effort: logged, never retried, and
// never surfaced to the detection path.
type Dispatcher struct {
	tokens TokenStore
	pusher Sender
	mailer DigestSender
	logger *zap.Logger
	now    func() time.Time
}

// NewDispatcher wires the dispatcher's collaborators.
func NewDispatcher(tokens TokenStore, pusher Sender, mailer DigestSender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		tokens: tokens,
		pusher: pusher,
		mailer: mailer,
		logger: logger.Named("dispatcher"),
		now:    time.Now,
	}
}

// NotifyOverlookers pushes the same title/body to every overlooker linked to
// the surveillance device. Fire-and-continue: a failure on one token never
// blocks the others, and no aggregate result is reported.
func (d *Dispatcher) NotifyOverlookers(ctx context.Context, surveillanceID, title, body string) {
	overlookers, err := d.tokens.GetOverlookers(ctx, surveillanceID)
	if err != nil {
		d.logger.Error("failed to list overlookers",
			zap.String("surveillance_id", surveillanceID),
			zap.Error(err))
		return
	}

	for _, o := range overlookers {
		token, err := d.tokens.GetToken(ctx, o.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				d.logger.Warn("overlooker has no addressing token",
					zap.String("overlooker_id", o.ID))
			} else {
				d.logger.Error("failed to fetch addressing token",
					zap.String("overlooker_id", o.ID),
					zap.Error(err))
			}
			continue
		}
		if err := d.pusher.Send(ctx, token, title, body); err != nil {
			d.logger.Error("push send failed",
				zap.String("overlooker_id", o.ID),
				zap.Error(err))
		}
	}
}

// NotifyPairingSuccess pushes a single "new device paired" notification to
// the surveillance device's own token. No-op with a warning when the device
// has no token yet.
func (d *Dispatcher) NotifyPairingSuccess(ctx context.Context, surveillanceID, overlookerName string) {
	token, err := d.tokens.GetToken(ctx, surveillanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			d.logger.Warn("surveillance device has no addressing token",
				zap.String("surveillance_id", surveillanceID))
		} else {
			d.logger.Error("failed to fetch surveillance token",
				zap.String("surveillance_id", surveillanceID),
				zap.Error(err))
		}
		return
	}

	body := fmt.Sprintf("Hi, you are connected to %s", overlookerName)
	if err := d.pusher.Send(ctx, token, "New device paired", body); err != nil {
		d.logger.Error("pairing notification failed",
			zap.String("surveillance_id", surveillanceID),
			zap.Error(err))
	}
}

// EmailDigest builds and posts the detection digest to every overlooker
// email on the device snapshot. No-op when the device has no overlooker
// emails. Transport failures are logged and swallowed; the email cooldown
// already rate-limits retries implicitly.
func (d *Dispatcher) EmailDigest(ctx context.Context, device *models.SurveillanceDevice, detections []models.DetectionResult, snapshot image.Image) {
	if device == nil {
		d.logger.Warn("no device snapshot cached, skipping digest")
		return
	}

	var recipients []string
	for _, o := range device.Overlookers {
		if o.Email != "" {
			recipients = append(recipients, o.Email)
		}
	}
	if len(recipients) == 0 {
		d.logger.Warn("no overlooker emails on device, skipping digest",
			zap.String("surveillance_id", device.ID))
		return
	}

	body, err := BuildDigestBody(detections, d.now())
	if err != nil {
		d.logger.Error("digest build failed",
			zap.String("surveillance_id", device.ID),
			zap.Error(err))
		return
	}

	subject := fmt.Sprintf("Surveillance Alert from %s", device.User.Username)
	if err := d.mailer.Send(ctx, recipients, subject, body, snapshot); err != nil {
		d.logger.Error("digest send failed",
			zap.String("surveillance_id", device.ID),
			zap.Int("recipients", len(recipients)),
			zap.Error(err))
	}
}
