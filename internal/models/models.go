// Package models holds the shared data types of the surveillance system:
// devices, overlookers, detections, and the per-device cooldown settings.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Device status values stored in the device record.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Device roles persisted in the local identity file.
const (
	ModeSurveillance = "surveillance"
	ModeOverlooker   = "overlooker"
)

// PairingCodeLength is the number of leading identifier characters used as
// the human-enterable pairing handle.
const PairingCodeLength = 6

// User identifies the owner of a device.
type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Overlooker is a device linked under a surveillance device.
type Overlooker struct {
	ID       string `json:"uuid"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// SurveillanceDevice is the remote record of a device running detection.
type SurveillanceDevice struct {
	ID          string                `json:"-"`
	Status      string                `json:"status"`
	PairingCode string                `json:"pairingCode"`
	User        User                  `json:"user"`
	Overlookers map[string]Overlooker `json:"overlookers,omitempty"`
	NightMode   bool                  `json:"nightMode"`
	StartCamera bool                  `json:"startCamera"`
}

// BoundingBox locates a detection within a frame, in pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection is a persisted person-detection record. ImagePath is nil until
// the snapshot upload completes; every other field is immutable once written.
type Detection struct {
	ID          string      `json:"-"`
	Timestamp   int64       `json:"timestamp"` // unix milliseconds
	Label       string      `json:"label"`
	Confidence  float32     `json:"confidence"`
	ImagePath   *string     `json:"imagePath"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

// DetectionResult is one labeled box produced by the detector for a frame.
type DetectionResult struct {
	Label      string
	Confidence float32
	Box        BoundingBox
}

// IsPerson reports whether the result is labeled "person", case-insensitively.
func (r DetectionResult) IsPerson() bool {
	return strings.EqualFold(r.Label, "person")
}

// Settings are the per-device cooldown intervals for the four event gates.
type Settings struct {
	NotificationInterval time.Duration `json:"notificationInterval"`
	SaveInterval         time.Duration `json:"saveInterval"`
	SoundInterval        time.Duration `json:"soundInterval"`
	EmailInterval        time.Duration `json:"emailInterval"`
}

// DefaultSettings returns the stock cooldown intervals.
func DefaultSettings() Settings {
	return Settings{
		NotificationInterval: 3 * time.Minute,
		SaveInterval:         3 * time.Minute,
		SoundInterval:        10 * time.Second,
		EmailInterval:        3 * time.Minute,
	}
}

// NewDeviceID mints a fresh 128-bit device identifier. Minted once per
// installation and never reused.
func NewDeviceID() string {
	return uuid.New().String()
}

// NewDetectionID mints an identifier for a detection record.
func NewDetectionID() string {
	return uuid.New().String()
}

// PairingCodeFor derives the short pairing handle from a full identifier.
func PairingCodeFor(deviceID string) string {
	if len(deviceID) < PairingCodeLength {
		return deviceID
	}
	return deviceID[:PairingCodeLength]
}
