// Package statesync exposes the remotely stored per-device booleans (night
// mode, remote camera start) as live values, and propagates local writes
// back to the store.
package statesync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/store"
)

// FlagStore is the slice of the store the synchronizer needs.
type FlagStore interface {
	SetFlag(ctx context.Context, flag store.Flag, surveillanceID string, value bool) error
	GetFlag(ctx context.Context, flag store.Flag, surveillanceID string) (bool, error)
	ObserveFlag(ctx context.Context, flag store.Flag, surveillanceID string) (<-chan bool, func(), error)
}

// Subscription is a live view of one remote boolean. Updates carries the
// current value followed by every remote change, latest value wins. Cancel
// tears the remote listener down; Updates is closed afterwards.
type Subscription struct {
	updates <-chan bool
	cancel  func()
	once    sync.Once
}

// Updates returns the live value stream.
func (s *Subscription) Updates() <-chan bool { return s.updates }

// Cancel tears down the remote subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

type slotKey struct {
	flag store.Flag
	id   string
}

// Synchronizer owns at most one live subscription per (flag, device) pair
// and an optimistic local mirror of the last known values.
type Synchronizer struct {
	store  FlagStore
	logger *zap.Logger

	mu     sync.Mutex
	slots  map[slotKey]*Subscription
	mirror map[slotKey]bool
	closed bool
}

// New creates a Synchronizer backed by the given flag store.
func New(flagStore FlagStore, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		store:  flagStore,
		logger: logger.Named("statesync"),
		slots:  make(map[slotKey]*Subscription),
		mirror: make(map[slotKey]bool),
	}
}

// Observe opens a live subscription for (flag, surveillanceID). If one is
// already installed it is cancelled synchronously as the new one takes its
// slot, so a session restarted before the previous teardown completed never
// leaks a duplicate listener.
func (s *Synchronizer) Observe(ctx context.Context, flag store.Flag, surveillanceID string) (*Subscription, error) {
	key := slotKey{flag: flag, id: surveillanceID}

	raw, stop, err := s.store.ObserveFlag(ctx, flag, surveillanceID)
	if err != nil {
		return nil, err
	}

	mirrored := make(chan bool, 1)
	sub := &Subscription{updates: mirrored, cancel: stop}

	go func() {
		defer close(mirrored)
		for v := range raw {
			s.mu.Lock()
			s.mirror[key] = v
			s.mu.Unlock()
			// Latest value wins for a slow consumer.
			select {
			case mirrored <- v:
			default:
				select {
				case <-mirrored:
				default:
				}
				mirrored <- v
			}
		}
	}()

	// The slot swap and the eviction of its previous occupant happen under
	// one lock acquisition, so two racing Observe calls for the same slot
	// cannot both leave a live listener behind.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Cancel()
		return nil, context.Canceled
	}
	prev := s.slots[key]
	s.slots[key] = sub
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		s.logger.Debug("replaced existing subscription",
			zap.String("flag", string(flag)),
			zap.String("surveillance_id", surveillanceID))
	}
	return sub, nil
}

// Set writes the flag to the store. The local mirror is updated
// optimistically, without waiting for the subscription to echo the value.
func (s *Synchronizer) Set(ctx context.Context, flag store.Flag, surveillanceID string, value bool) error {
	key := slotKey{flag: flag, id: surveillanceID}

	s.mu.Lock()
	s.mirror[key] = value
	s.mu.Unlock()

	if err := s.store.SetFlag(ctx, flag, surveillanceID, value); err != nil {
		s.logger.Error("flag write failed",
			zap.String("flag", string(flag)),
			zap.String("surveillance_id", surveillanceID),
			zap.Bool("value", value),
			zap.Error(err))
		return err
	}
	return nil
}

// Current returns the mirrored value for (flag, surveillanceID) and whether
// any value has been seen yet.
func (s *Synchronizer) Current(flag store.Flag, surveillanceID string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.mirror[slotKey{flag: flag, id: surveillanceID}]
	return v, ok
}

// Close cancels every live subscription.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.slots))
	for _, sub := range s.slots {
		subs = append(subs, sub)
	}
	s.slots = make(map[slotKey]*Subscription)
	s.closed = true
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}
