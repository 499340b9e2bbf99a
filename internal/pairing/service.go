// Package pairing resolves short pairing codes and links overlooker devices
// under surveillance devices.
package pairing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/models"
	"github.com/yashwanth-gh/overlook/internal/retry"
	"github.com/yashwanth-gh/overlook/internal/store"
)

// Typed pairing failures. Both must produce user-visible feedback.
var (
	// ErrInvalidPairingCode means no device carries the entered code.
	ErrInvalidPairingCode = errors.New("invalid pairing code")
	// ErrInvalidSurveillanceID means the resolved device exists but is not
	// active.
	ErrInvalidSurveillanceID = errors.New("invalid surveillance device")
)

// Store is the slice of the remote store the pairing service uses.
type Store interface {
	ResolvePairingCode(ctx context.Context, pairingCode string) (string, error)
	GetDevice(ctx context.Context, deviceID string) (*models.SurveillanceDevice, error)
	PutOverlooker(ctx context.Context, surveillanceID string, overlooker models.Overlooker) error
	RemoveOverlooker(ctx context.Context, surveillanceID, overlookerID string) error
	TokenExists(ctx context.Context, deviceID string) (bool, error)
	SaveToken(ctx context.Context, deviceID, token string) error
}

// LinkKeeper persists the resolved surveillance identifier locally for later
// session use.
type LinkKeeper interface {
	SaveLinkedSurveillanceID(surveillanceID string) error
}

// TokenProvider returns this installation's current addressing token, or an
// error when the platform has not issued one yet.
type TokenProvider func(ctx context.Context) (string, error)

// Service pairs an overlooker with a surveillance device.
type Service struct {
	store      Store
	links      LinkKeeper
	localToken TokenProvider
	policy     retry.Policy
	logger     *zap.Logger
	onState    func(State)
}

// NewService wires the pairing service. The retry policy covers the
// pairing-critical store operations only.
func NewService(st Store, links LinkKeeper, localToken TokenProvider, logger *zap.Logger) *Service {
	return &Service{
		store:      st,
		links:      links,
		localToken: localToken,
		policy:     retry.DefaultPolicy(),
		logger:     logger.Named("pairing"),
	}
}

// OnStateChange installs an observer for pairing-flow state transitions.
// Must be set before Pair is called, never concurrently with it.
func (s *Service) OnStateChange(fn func(State)) {
	s.onState = fn
}

func (s *Service) emit(state State) {
	if s.onState != nil {
		s.onState(state)
	}
}

// Pair resolves pairingCode to a surveillance device, validates it, links
// the overlooker under it, and backfills missing addressing tokens
// best-effort. Returns the resolved surveillance identifier; the caller
// triggers the pairing notification with it.
func (s *Service) Pair(ctx context.Context, pairingCode, overlookerID string, user models.User) (string, error) {
	s.emit(Loading())
	surveillanceID, err := s.pair(ctx, pairingCode, overlookerID, user)
	if err != nil {
		s.emit(Failure(err))
		return "", err
	}
	s.emit(Success(surveillanceID))
	return surveillanceID, nil
}

func (s *Service) pair(ctx context.Context, pairingCode, overlookerID string, user models.User) (string, error) {
	s.logger.Info("pairing attempt",
		zap.String("pairing_code", pairingCode),
		zap.String("overlooker_id", overlookerID))

	surveillanceID, err := retry.Do(ctx, s.policy, "resolve pairing code",
		func(ctx context.Context) (string, error) {
			return s.store.ResolvePairingCode(ctx, pairingCode)
		})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidPairingCode
		}
		return "", fmt.Errorf("resolving pairing code: %w", err)
	}

	device, err := retry.Do(ctx, s.policy, "validate surveillance device",
		func(ctx context.Context) (*models.SurveillanceDevice, error) {
			return s.store.GetDevice(ctx, surveillanceID)
		})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidPairingCode
		}
		return "", fmt.Errorf("validating surveillance device: %w", err)
	}
	if device.Status != models.StatusActive {
		s.logger.Warn("surveillance device is not active",
			zap.String("surveillance_id", surveillanceID),
			zap.String("status", device.Status))
		return "", ErrInvalidSurveillanceID
	}

	if err := s.links.SaveLinkedSurveillanceID(surveillanceID); err != nil {
		return "", fmt.Errorf("persisting linked surveillance id: %w", err)
	}

	// The pairing commit point: a single atomic map write, never partial.
	overlooker := models.Overlooker{ID: overlookerID, Username: user.Username, Email: user.Email}
	if _, err := retry.Do(ctx, s.policy, "register overlooker",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.store.PutOverlooker(ctx, surveillanceID, overlooker)
		}); err != nil {
		return "", fmt.Errorf("registering overlooker: %w", err)
	}

	s.backfillTokens(ctx, surveillanceID, overlookerID)

	s.logger.Info("pairing successful",
		zap.String("surveillance_id", surveillanceID),
		zap.String("overlooker_id", overlookerID))
	return surveillanceID, nil
}

// backfillTokens covers the window where a device registered before its
// platform token arrived. Only this installation's own token can be minted
// from here, so the overlooker's missing slot is filled with the local token
// and a missing surveillance token is just reported. Best-effort: failures
// are logged and swallowed.
func (s *Service) backfillTokens(ctx context.Context, surveillanceID, overlookerID string) {
	checks := []struct {
		deviceID string
		local    bool
	}{
		{deviceID: surveillanceID, local: false},
		{deviceID: overlookerID, local: true},
	}

	for _, c := range checks {
		exists, err := s.store.TokenExists(ctx, c.deviceID)
		if err != nil {
			s.logger.Warn("token existence check failed",
				zap.String("device_id", c.deviceID),
				zap.Error(err))
			continue
		}
		if exists {
			continue
		}
		if !c.local {
			s.logger.Warn("paired device has no addressing token yet",
				zap.String("device_id", c.deviceID))
			continue
		}

		token, err := s.localToken(ctx)
		if err != nil {
			s.logger.Warn("local addressing token unavailable for backfill",
				zap.String("device_id", c.deviceID),
				zap.Error(err))
			continue
		}
		if _, err := retry.Do(ctx, s.policy, "backfill addressing token",
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, s.store.SaveToken(ctx, c.deviceID, token)
			}); err != nil {
			s.logger.Warn("token backfill failed",
				zap.String("device_id", c.deviceID),
				zap.Error(err))
		}
	}
}

// Unpair removes an overlooker link. Only explicit unpair deletes entries.
func (s *Service) Unpair(ctx context.Context, surveillanceID, overlookerID string) error {
	if err := s.store.RemoveOverlooker(ctx, surveillanceID, overlookerID); err != nil {
		return fmt.Errorf("removing overlooker: %w", err)
	}
	s.logger.Info("overlooker unpaired",
		zap.String("surveillance_id", surveillanceID),
		zap.String("overlooker_id", overlookerID))
	return nil
}
