package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/statesync"
	"github.com/yashwanth-gh/overlook/internal/store"
)

// torchHoldDuration is how long the torch stays on after the ambient sound
// detector fires in night mode.
const torchHoldDuration = 30 * time.Second

// CameraController activates and deactivates frame capture.
type CameraController interface {
	StartCapture()
	StopCapture()
}

// Torch switches the flashlight.
type Torch interface {
	On() error
	Off() error
}

// SoundDetector is the ambient-sound secondary detector armed in night mode.
type SoundDetector interface {
	Start(ctx context.Context, onSound func()) error
	Stop()
}

// Session binds the remote flags of one surveillance device to their local
// side effects for the lifetime of a surveillance run. Night mode arms the
// sound detector, whose firing flashes the torch; remote camera start
// toggles capture. Both subscriptions and the microphone are released on
// Stop.
type Session struct {
	surveillanceID string
	sync           *statesync.Synchronizer
	camera         CameraController
	torch          Torch
	sound          SoundDetector
	logger         *zap.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	subs       []*statesync.Subscription
	torchTimer *time.Timer
	wg         sync.WaitGroup
}

// NewSession wires the session's collaborators.
func NewSession(surveillanceID string, synchronizer *statesync.Synchronizer, camera CameraController, torch Torch, sound SoundDetector, logger *zap.Logger) *Session {
	return &Session{
		surveillanceID: surveillanceID,
		sync:           synchronizer,
		camera:         camera,
		torch:          torch,
		sound:          sound,
		logger:         logger.Named("session"),
	}
}

// Start opens the night-mode and camera-start subscriptions. Starting again
// replaces any previous run: the synchronizer cancels the old subscription
// in each slot before installing the new one, so subscriptions never stack.
func (s *Session) Start(ctx context.Context) error {
	s.Stop()

	runCtx, cancel := context.WithCancel(ctx)

	nightMode, err := s.sync.Observe(runCtx, store.FlagNightMode, s.surveillanceID)
	if err != nil {
		cancel()
		return err
	}
	startCamera, err := s.sync.Observe(runCtx, store.FlagStartCamera, s.surveillanceID)
	if err != nil {
		nightMode.Cancel()
		cancel()
		return err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.subs = []*statesync.Subscription{nightMode, startCamera}
	s.mu.Unlock()

	s.wg.Add(2)
	go s.watchNightMode(runCtx, nightMode)
	go s.watchStartCamera(startCamera)

	s.logger.Info("session started", zap.String("surveillance_id", s.surveillanceID))
	return nil
}

func (s *Session) watchNightMode(ctx context.Context, sub *statesync.Subscription) {
	defer s.wg.Done()
	for enabled := range sub.Updates() {
		if enabled {
			s.logger.Info("night mode on, arming sound detector")
			if err := s.sound.Start(ctx, s.flashTorch); err != nil {
				s.logger.Error("sound detector start failed", zap.Error(err))
			}
		} else {
			s.logger.Info("night mode off, releasing sound detector")
			s.sound.Stop()
		}
	}
}

func (s *Session) watchStartCamera(sub *statesync.Subscription) {
	defer s.wg.Done()
	for enabled := range sub.Updates() {
		if enabled {
			s.logger.Info("remote camera start")
			s.camera.StartCapture()
		} else {
			s.logger.Info("remote camera stop")
			s.camera.StopCapture()
		}
	}
}

// flashTorch turns the torch on for torchHoldDuration. A firing while the
// torch is already on extends the hold instead of stacking timers.
func (s *Session) flashTorch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.torchTimer != nil {
		s.torchTimer.Reset(torchHoldDuration)
		return
	}

	if err := s.torch.On(); err != nil {
		s.logger.Error("torch on failed", zap.Error(err))
		return
	}
	s.torchTimer = time.AfterFunc(torchHoldDuration, func() {
		s.mu.Lock()
		s.torchTimer = nil
		s.mu.Unlock()
		if err := s.torch.Off(); err != nil {
			s.logger.Error("torch off failed", zap.Error(err))
		}
	})
}

// Stop tears down the subscriptions, the sound detector, and any pending
// torch hold. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	subs := s.subs
	timer := s.torchTimer
	s.cancel = nil
	s.subs = nil
	s.torchTimer = nil
	s.mu.Unlock()

	if cancel == nil && subs == nil {
		return
	}

	for _, sub := range subs {
		sub.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	s.sound.Stop()
	if timer != nil && timer.Stop() {
		if err := s.torch.Off(); err != nil {
			s.logger.Error("torch off failed", zap.Error(err))
		}
	}
	s.wg.Wait()
	s.logger.Info("session stopped", zap.String("surveillance_id", s.surveillanceID))
}
