package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/models"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client, zap.NewNop())
}

func registerDevice(t *testing.T, st *RedisStore, id string) models.SurveillanceDevice {
	t.Helper()
	device := models.SurveillanceDevice{
		ID:   id,
		User: models.User{Username: "porch-cam", Email: "owner@example.com"},
	}
	require.NoError(t, st.RegisterDevice(context.Background(), device))
	return device
}

func TestRegisterDeviceDerivesDefaults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := models.NewDeviceID()
	registerDevice(t, st, id)

	device, err := st.GetDevice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, device.ID)
	assert.Equal(t, models.StatusActive, device.Status)
	assert.Equal(t, models.PairingCodeFor(id), device.PairingCode)
	assert.Equal(t, "porch-cam", device.User.Username)
	assert.Empty(t, device.Overlookers)
	assert.False(t, device.NightMode)
	assert.False(t, device.StartCamera)
}

func TestGetDeviceNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetDevice(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "get", storeErr.Op)
}

func TestRegisterDeviceRejectsEmptyID(t *testing.T) {
	st := newTestStore(t)
	err := st.RegisterDevice(context.Background(), models.SurveillanceDevice{})
	assert.Error(t, err)
}

func TestSetStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := models.NewDeviceID()
	registerDevice(t, st, id)

	require.NoError(t, st.SetStatus(ctx, id, models.StatusInactive))

	device, err := st.GetDevice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, device.Status)
	assert.Equal(t, models.PairingCodeFor(id), device.PairingCode, "other fields untouched")
}

func TestResolvePairingCode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		id := models.NewDeviceID()
		registerDevice(t, st, id)
		ids = append(ids, id)
	}

	got, err := st.ResolvePairingCode(ctx, models.PairingCodeFor(ids[1]))
	require.NoError(t, err)
	assert.Equal(t, ids[1], got)
}

func TestResolvePairingCodeNotFound(t *testing.T) {
	st := newTestStore(t)
	registerDevice(t, st, models.NewDeviceID())

	_, err := st.ResolvePairingCode(context.Background(), "zzzzzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOverlookerLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := models.NewDeviceID()
	registerDevice(t, st, id)

	o := models.Overlooker{ID: "watcher-1", Username: "alice", Email: "alice@example.com"}
	require.NoError(t, st.PutOverlooker(ctx, id, o))

	got, err := st.GetOverlooker(ctx, id, "watcher-1")
	require.NoError(t, err)
	assert.Equal(t, o, *got)

	// Re-pairing overwrites the entry instead of duplicating it.
	o.Username = "alice-renamed"
	require.NoError(t, st.PutOverlooker(ctx, id, o))

	all, err := st.GetOverlookers(ctx, id)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "alice-renamed", all[0].Username)

	device, err := st.GetDevice(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, device.Overlookers, "watcher-1")

	require.NoError(t, st.RemoveOverlooker(ctx, id, "watcher-1"))
	all, err = st.GetOverlookers(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTokenRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	exists, err := st.TokenExists(ctx, "dev-1")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = st.GetToken(ctx, "dev-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.SaveToken(ctx, "dev-1", "tok-abc"))

	token, err := st.GetToken(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token)

	exists, err = st.TokenExists(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDetectionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := models.NewDeviceID()

	url := "http://images.local/detection_images/a.jpg"
	older := models.Detection{
		ID:          models.NewDetectionID(),
		Timestamp:   time.Now().Add(-time.Minute).UnixMilli(),
		Label:       "person",
		Confidence:  0.87,
		ImagePath:   &url,
		BoundingBox: models.BoundingBox{X: 1, Y: 2, Width: 3, Height: 4},
	}
	newer := models.Detection{
		ID:         models.NewDetectionID(),
		Timestamp:  time.Now().UnixMilli(),
		Label:      "person",
		Confidence: 0.91,
	}
	require.NoError(t, st.PutDetection(ctx, id, older))
	require.NoError(t, st.PutDetection(ctx, id, newer))

	detections, err := st.ListDetections(ctx, id)
	require.NoError(t, err)
	require.Len(t, detections, 2)
	assert.Equal(t, newer.ID, detections[0].ID, "newest first")
	assert.Equal(t, older, detections[1])
	assert.Nil(t, detections[0].ImagePath)

	require.NoError(t, st.DeleteDetection(ctx, id, newer.ID))
	detections, err = st.ListDetections(ctx, id)
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.Equal(t, older.ID, detections[0].ID)
}

func TestPutDetectionRejectsEmptyID(t *testing.T) {
	st := newTestStore(t)
	err := st.PutDetection(context.Background(), "surv", models.Detection{})
	assert.Error(t, err)
}

func TestGetSettingsNotFoundWhenNeverSaved(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetSettings(context.Background(), "surv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettingsRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	want := models.Settings{
		NotificationInterval: time.Minute,
		SaveInterval:         2 * time.Minute,
		SoundInterval:        5 * time.Second,
		EmailInterval:        10 * time.Minute,
	}
	require.NoError(t, st.SaveSettings(ctx, "surv", want))

	got, err := st.GetSettings(ctx, "surv")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFlagsPersistOnDeviceRecord(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := models.NewDeviceID()
	registerDevice(t, st, id)

	require.NoError(t, st.SetFlag(ctx, FlagNightMode, id, true))

	v, err := st.GetFlag(ctx, FlagNightMode, id)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = st.GetFlag(ctx, FlagStartCamera, id)
	require.NoError(t, err)
	assert.False(t, v)

	device, err := st.GetDevice(ctx, id)
	require.NoError(t, err)
	assert.True(t, device.NightMode)
}

func TestConcurrentFlagAndStatusWritesDoNotClobber(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := models.NewDeviceID()
	registerDevice(t, st, id)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			assert.NoError(t, st.SetFlag(ctx, FlagNightMode, id, true))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			assert.NoError(t, st.SetStatus(ctx, id, models.StatusInactive))
		}
	}()
	wg.Wait()

	device, err := st.GetDevice(ctx, id)
	require.NoError(t, err)
	assert.True(t, device.NightMode, "flag write survived the concurrent status writes")
	assert.Equal(t, models.StatusInactive, device.Status)
}

func TestSetFlagUnknownDevice(t *testing.T) {
	st := newTestStore(t)
	err := st.SetFlag(context.Background(), FlagNightMode, "missing", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestObserveFlagEmitsCurrentThenChanges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := models.NewDeviceID()
	registerDevice(t, st, id)

	updates, stop, err := st.ObserveFlag(ctx, FlagNightMode, id)
	require.NoError(t, err)
	defer stop()

	select {
	case v := <-updates:
		assert.False(t, v, "initial value emitted first")
	case <-time.After(time.Second):
		t.Fatal("no initial flag value")
	}

	require.NoError(t, st.SetFlag(ctx, FlagNightMode, id, true))

	select {
	case v := <-updates:
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("no flag update after set")
	}
}

func TestObserveFlagStopIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := models.NewDeviceID()
	registerDevice(t, st, id)

	_, stop, err := st.ObserveFlag(ctx, FlagStartCamera, id)
	require.NoError(t, err)
	stop()
	stop()
}
