package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/statesync"
	"github.com/yashwanth-gh/overlook/internal/store"
)

// memFlagStore is an in-memory statesync backend for session tests.
type memFlagStore struct {
	mu        sync.Mutex
	values    map[string]bool
	observers map[string][]chan bool
}

func newMemFlagStore() *memFlagStore {
	return &memFlagStore{
		values:    make(map[string]bool),
		observers: make(map[string][]chan bool),
	}
}

func flagKey(flag store.Flag, id string) string { return id + ":" + string(flag) }

func (m *memFlagStore) SetFlag(ctx context.Context, flag store.Flag, id string, value bool) error {
	m.mu.Lock()
	m.values[flagKey(flag, id)] = value
	targets := append([]chan bool(nil), m.observers[flagKey(flag, id)]...)
	m.mu.Unlock()
	for _, ch := range targets {
		ch <- value
	}
	return nil
}

func (m *memFlagStore) GetFlag(ctx context.Context, flag store.Flag, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[flagKey(flag, id)], nil
}

func (m *memFlagStore) ObserveFlag(ctx context.Context, flag store.Flag, id string) (<-chan bool, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan bool, 16)
	ch <- m.values[flagKey(flag, id)]
	m.observers[flagKey(flag, id)] = append(m.observers[flagKey(flag, id)], ch)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			kept := m.observers[flagKey(flag, id)][:0]
			for _, o := range m.observers[flagKey(flag, id)] {
				if o != ch {
					kept = append(kept, o)
				}
			}
			m.observers[flagKey(flag, id)] = kept
			close(ch)
		})
	}
	return ch, stop, nil
}

type fakeCamera struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (c *fakeCamera) StartCapture() { c.starts.Add(1) }
func (c *fakeCamera) StopCapture()  { c.stops.Add(1) }

type fakeTorch struct {
	ons  atomic.Int32
	offs atomic.Int32
}

func (t *fakeTorch) On() error  { t.ons.Add(1); return nil }
func (t *fakeTorch) Off() error { t.offs.Add(1); return nil }

type fakeSound struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
	onSound func()
}

func (s *fakeSound) Start(ctx context.Context, onSound func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.starts++
	s.onSound = onSound
	return nil
}

func (s *fakeSound) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.stops++
}

func (s *fakeSound) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *fakeSound) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func newTestSession(t *testing.T) (*Session, *memFlagStore, *fakeCamera, *fakeTorch, *fakeSound) {
	t.Helper()
	fs := newMemFlagStore()
	syncer := statesync.New(fs, zap.NewNop())
	t.Cleanup(syncer.Close)

	camera := &fakeCamera{}
	torch := &fakeTorch{}
	sound := &fakeSound{}
	session := NewSession("surv-1", syncer, camera, torch, sound, zap.NewNop())
	return session, fs, camera, torch, sound
}

func TestNightModeArmsAndReleasesSoundDetector(t *testing.T) {
	session, fs, _, _, sound := newTestSession(t)
	require.NoError(t, session.Start(context.Background()))
	defer session.Stop()

	require.NoError(t, fs.SetFlag(context.Background(), store.FlagNightMode, "surv-1", true))
	assert.Eventually(t, func() bool { return sound.startCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, fs.SetFlag(context.Background(), store.FlagNightMode, "surv-1", false))
	assert.Eventually(t, func() bool { return sound.stopCount() == 1 }, time.Second, time.Millisecond)
}

func TestRemoteCameraStartTogglesCapture(t *testing.T) {
	session, fs, camera, _, _ := newTestSession(t)
	require.NoError(t, session.Start(context.Background()))
	defer session.Stop()

	require.NoError(t, fs.SetFlag(context.Background(), store.FlagStartCamera, "surv-1", true))
	assert.Eventually(t, func() bool { return camera.starts.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, fs.SetFlag(context.Background(), store.FlagStartCamera, "surv-1", false))
	assert.Eventually(t, func() bool { return camera.stops.Load() == 1 }, time.Second, time.Millisecond)
}

func TestSoundFiringFlashesTorchOnce(t *testing.T) {
	session, _, _, torch, _ := newTestSession(t)
	require.NoError(t, session.Start(context.Background()))

	session.flashTorch()
	session.flashTorch() // extends the hold, no second On

	assert.Equal(t, int32(1), torch.ons.Load())
	assert.Zero(t, torch.offs.Load())

	// Teardown cancels the pending hold and turns the torch off.
	session.Stop()
	assert.Equal(t, int32(1), torch.offs.Load())
}

func TestStopIsIdempotentAndReleasesSound(t *testing.T) {
	session, fs, _, _, sound := newTestSession(t)
	require.NoError(t, session.Start(context.Background()))

	require.NoError(t, fs.SetFlag(context.Background(), store.FlagNightMode, "surv-1", true))
	assert.Eventually(t, func() bool { return sound.startCount() == 1 }, time.Second, time.Millisecond)

	session.Stop()
	session.Stop()
	assert.Equal(t, 1, sound.stopCount())
}

func TestRestartReplacesSubscriptions(t *testing.T) {
	session, fs, camera, _, _ := newTestSession(t)
	require.NoError(t, session.Start(context.Background()))
	require.NoError(t, session.Start(context.Background()))
	defer session.Stop()

	// One live subscription per flag: a single toggle produces a single
	// capture start, not one per Start call.
	require.NoError(t, fs.SetFlag(context.Background(), store.FlagStartCamera, "surv-1", true))
	assert.Eventually(t, func() bool { return camera.starts.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), camera.starts.Load())
}