// Package store defines the remote key-value backend holding device records,
// pairing links, detections, addressing tokens, and the two remotely
// toggleable flags, plus a Redis-backed implementation.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/yashwanth-gh/overlook/internal/models"
)

// Flag names one of the remotely synchronized booleans on a device record.
type Flag string

const (
	FlagNightMode   Flag = "nightMode"
	FlagStartCamera Flag = "startCamera"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// StoreError wraps a failed store operation with its path.
type StoreError struct {
	Op   string // "get", "put", "scan", "subscribe", ...
	Path string // conceptual record path, e.g. "surveillance_devices/abc"
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store is the remote backend consumed by the pairing service, the
// notification dispatcher, the state synchronizer, and the coordinator.
// Implementations must make PutOverlooker a single atomic write: it is the
// pairing commit point and must never leave a partial entry.
type Store interface {
	// Device records.
	RegisterDevice(ctx context.Context, device models.SurveillanceDevice) error
	GetDevice(ctx context.Context, deviceID string) (*models.SurveillanceDevice, error)
	SetStatus(ctx context.Context, deviceID, status string) error
	ResolvePairingCode(ctx context.Context, pairingCode string) (string, error)

	// Overlooker links under a surveillance device.
	PutOverlooker(ctx context.Context, surveillanceID string, overlooker models.Overlooker) error
	GetOverlooker(ctx context.Context, surveillanceID, overlookerID string) (*models.Overlooker, error)
	GetOverlookers(ctx context.Context, surveillanceID string) ([]models.Overlooker, error)
	RemoveOverlooker(ctx context.Context, surveillanceID, overlookerID string) error

	// Push addressing tokens, one per device identifier. Single-writer per
	// device; stale tokens are overwritten, never invalidated.
	SaveToken(ctx context.Context, deviceID, token string) error
	GetToken(ctx context.Context, deviceID string) (string, error)
	TokenExists(ctx context.Context, deviceID string) (bool, error)

	// Detection records.
	PutDetection(ctx context.Context, surveillanceID string, detection models.Detection) error
	ListDetections(ctx context.Context, surveillanceID string) ([]models.Detection, error)
	DeleteDetection(ctx context.Context, surveillanceID, detectionID string) error

	// Per-device cooldown settings.
	SaveSettings(ctx context.Context, surveillanceID string, settings models.Settings) error
	GetSettings(ctx context.Context, surveillanceID string) (models.Settings, error)

	// Remotely synchronized flags. ObserveFlag emits the current value
	// immediately, then every remote change until stop is called; only the
	// latest value is guaranteed visible.
	SetFlag(ctx context.Context, flag Flag, surveillanceID string, value bool) error
	GetFlag(ctx context.Context, flag Flag, surveillanceID string) (bool, error)
	ObserveFlag(ctx context.Context, flag Flag, surveillanceID string) (<-chan bool, func(), error)

	Close() error
}
