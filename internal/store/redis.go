package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/models"
)

// Key prefixes. Device records, overlooker links, detections, settings, and
// tokens live under separate prefixes so that a scan over device records
// never touches child collections.
const (
	devicePrefix     = "surveillance_devices:"
	overlookerPrefix = "surveillance_overlookers:"
	detectionPrefix  = "surveillance_detections:"
	settingsPrefix   = "surveillance_settings:"
	tokenPrefix      = "fcm_tokens:"
	flagChanPrefix   = "surveillance_flags:"

	scanBatch = 100

	// Attempts for the optimistic device-record transaction before giving up.
	deviceTxRetries = 5
)

// RedisConfig contains connection settings for the Redis-backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore implements Store on a Redis backend. Flag changes are fanned
// out over pub/sub channels, one per (device, flag) pair.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, &StoreError{Op: "connect", Err: err}
	}
	return &RedisStore{
		client: client,
		logger: logger.Named("redis-store"),
	}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests.
func NewRedisStoreFromClient(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger.Named("redis-store")}
}

func (s *RedisStore) Close() error { return s.client.Close() }

// RegisterDevice writes the base device record. The pairing code is derived
// from the identifier if the caller left it empty.
func (s *RedisStore) RegisterDevice(ctx context.Context, device models.SurveillanceDevice) error {
	if device.ID == "" {
		return &StoreError{Op: "put", Path: "surveillance_devices", Err: errors.New("empty device id")}
	}
	if device.PairingCode == "" {
		device.PairingCode = models.PairingCodeFor(device.ID)
	}
	if device.Status == "" {
		device.Status = models.StatusActive
	}
	device.Overlookers = nil // stored separately

	data, err := json.Marshal(device)
	if err != nil {
		return &StoreError{Op: "put", Path: devicePath(device.ID), Err: err}
	}
	if err := s.client.Set(ctx, devicePrefix+device.ID, data, 0).Err(); err != nil {
		return &StoreError{Op: "put", Path: devicePath(device.ID), Err: err}
	}
	s.logger.Info("device registered",
		zap.String("device_id", device.ID),
		zap.String("pairing_code", device.PairingCode))
	return nil
}

// GetDevice loads a device record with its overlooker map.
func (s *RedisStore) GetDevice(ctx context.Context, deviceID string) (*models.SurveillanceDevice, error) {
	device, err := s.getDeviceRecord(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	overlookers, err := s.GetOverlookers(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	device.Overlookers = make(map[string]models.Overlooker, len(overlookers))
	for _, o := range overlookers {
		device.Overlookers[o.ID] = o
	}
	return device, nil
}

func (s *RedisStore) getDeviceRecord(ctx context.Context, deviceID string) (*models.SurveillanceDevice, error) {
	data, err := s.client.Get(ctx, devicePrefix+deviceID).Bytes()
	if err == redis.Nil {
		return nil, &StoreError{Op: "get", Path: devicePath(deviceID), Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Path: devicePath(deviceID), Err: err}
	}
	var device models.SurveillanceDevice
	if err := json.Unmarshal(data, &device); err != nil {
		return nil, &StoreError{Op: "get", Path: devicePath(deviceID), Err: err}
	}
	device.ID = deviceID
	return &device, nil
}

// SetStatus updates only the status field of a device record.
func (s *RedisStore) SetStatus(ctx context.Context, deviceID, status string) error {
	err := s.updateDeviceRecord(ctx, deviceID, func(device *models.SurveillanceDevice) {
		device.Status = status
	})
	if err != nil {
		return &StoreError{Op: "put", Path: devicePath(deviceID), Err: err}
	}
	return nil
}

// updateDeviceRecord applies mutate to the device record inside a WATCH/MULTI
// transaction, retrying when a concurrent writer touches the record first.
// Status and flag writers share the record, so a plain get-then-set would let
// one clobber the other's field.
func (s *RedisStore) updateDeviceRecord(ctx context.Context, deviceID string, mutate func(*models.SurveillanceDevice)) error {
	key := devicePrefix + deviceID
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var device models.SurveillanceDevice
		if err := json.Unmarshal(data, &device); err != nil {
			return err
		}
		device.ID = deviceID
		mutate(&device)
		out, err := json.Marshal(device)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < deviceTxRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

// ResolvePairingCode scans device records for a matching pairing code.
// First match wins; pairing codes are treated as unique among active devices.
func (s *RedisStore) ResolvePairingCode(ctx context.Context, pairingCode string) (string, error) {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, devicePrefix+"*", scanBatch).Result()
		if err != nil {
			return "", &StoreError{Op: "scan", Path: "surveillance_devices", Err: err}
		}
		// Scan order is unspecified; sort the batch so resolution is
		// deterministic when codes collide.
		sort.Strings(keys)
		for _, key := range keys {
			deviceID := key[len(devicePrefix):]
			device, err := s.getDeviceRecord(ctx, deviceID)
			if err != nil {
				continue
			}
			if device.PairingCode == pairingCode {
				return deviceID, nil
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return "", &StoreError{Op: "scan", Path: "surveillance_devices", Err: ErrNotFound}
}

// PutOverlooker registers an overlooker under a surveillance device. A
// single HSET, so the entry is never partially written; re-pairing the same
// overlooker overwrites rather than duplicates.
func (s *RedisStore) PutOverlooker(ctx context.Context, surveillanceID string, overlooker models.Overlooker) error {
	data, err := json.Marshal(overlooker)
	if err != nil {
		return &StoreError{Op: "put", Path: overlookerPath(surveillanceID, overlooker.ID), Err: err}
	}
	if err := s.client.HSet(ctx, overlookerPrefix+surveillanceID, overlooker.ID, data).Err(); err != nil {
		return &StoreError{Op: "put", Path: overlookerPath(surveillanceID, overlooker.ID), Err: err}
	}
	s.logger.Info("overlooker linked",
		zap.String("surveillance_id", surveillanceID),
		zap.String("overlooker_id", overlooker.ID))
	return nil
}

func (s *RedisStore) GetOverlooker(ctx context.Context, surveillanceID, overlookerID string) (*models.Overlooker, error) {
	data, err := s.client.HGet(ctx, overlookerPrefix+surveillanceID, overlookerID).Bytes()
	if err == redis.Nil {
		return nil, &StoreError{Op: "get", Path: overlookerPath(surveillanceID, overlookerID), Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Path: overlookerPath(surveillanceID, overlookerID), Err: err}
	}
	var o models.Overlooker
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, &StoreError{Op: "get", Path: overlookerPath(surveillanceID, overlookerID), Err: err}
	}
	o.ID = overlookerID
	return &o, nil
}

func (s *RedisStore) GetOverlookers(ctx context.Context, surveillanceID string) ([]models.Overlooker, error) {
	entries, err := s.client.HGetAll(ctx, overlookerPrefix+surveillanceID).Result()
	if err != nil {
		return nil, &StoreError{Op: "get", Path: overlookerPath(surveillanceID, ""), Err: err}
	}
	overlookers := make([]models.Overlooker, 0, len(entries))
	for id, raw := range entries {
		var o models.Overlooker
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			s.logger.Warn("skipping malformed overlooker entry",
				zap.String("surveillance_id", surveillanceID),
				zap.String("overlooker_id", id),
				zap.Error(err))
			continue
		}
		o.ID = id
		overlookers = append(overlookers, o)
	}
	sort.Slice(overlookers, func(i, j int) bool { return overlookers[i].ID < overlookers[j].ID })
	return overlookers, nil
}

// RemoveOverlooker unpairs a device. Only explicit unpair removes entries.
func (s *RedisStore) RemoveOverlooker(ctx context.Context, surveillanceID, overlookerID string) error {
	if err := s.client.HDel(ctx, overlookerPrefix+surveillanceID, overlookerID).Err(); err != nil {
		return &StoreError{Op: "delete", Path: overlookerPath(surveillanceID, overlookerID), Err: err}
	}
	return nil
}

// SaveToken upserts the addressing token for a device identifier.
func (s *RedisStore) SaveToken(ctx context.Context, deviceID, token string) error {
	if err := s.client.Set(ctx, tokenPrefix+deviceID, token, 0).Err(); err != nil {
		return &StoreError{Op: "put", Path: tokenPath(deviceID), Err: err}
	}
	return nil
}

func (s *RedisStore) GetToken(ctx context.Context, deviceID string) (string, error) {
	token, err := s.client.Get(ctx, tokenPrefix+deviceID).Result()
	if err == redis.Nil {
		return "", &StoreError{Op: "get", Path: tokenPath(deviceID), Err: ErrNotFound}
	}
	if err != nil {
		return "", &StoreError{Op: "get", Path: tokenPath(deviceID), Err: err}
	}
	return token, nil
}

func (s *RedisStore) TokenExists(ctx context.Context, deviceID string) (bool, error) {
	n, err := s.client.Exists(ctx, tokenPrefix+deviceID).Result()
	if err != nil {
		return false, &StoreError{Op: "get", Path: tokenPath(deviceID), Err: err}
	}
	return n > 0, nil
}

// PutDetection writes one detection record under a device.
func (s *RedisStore) PutDetection(ctx context.Context, surveillanceID string, detection models.Detection) error {
	if detection.ID == "" {
		return &StoreError{Op: "put", Path: detectionPath(surveillanceID, ""), Err: errors.New("empty detection id")}
	}
	data, err := json.Marshal(detection)
	if err != nil {
		return &StoreError{Op: "put", Path: detectionPath(surveillanceID, detection.ID), Err: err}
	}
	if err := s.client.HSet(ctx, detectionPrefix+surveillanceID, detection.ID, data).Err(); err != nil {
		return &StoreError{Op: "put", Path: detectionPath(surveillanceID, detection.ID), Err: err}
	}
	return nil
}

// ListDetections returns a device's detections, newest first.
func (s *RedisStore) ListDetections(ctx context.Context, surveillanceID string) ([]models.Detection, error) {
	entries, err := s.client.HGetAll(ctx, detectionPrefix+surveillanceID).Result()
	if err != nil {
		return nil, &StoreError{Op: "get", Path: detectionPath(surveillanceID, ""), Err: err}
	}
	detections := make([]models.Detection, 0, len(entries))
	for id, raw := range entries {
		var d models.Detection
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			s.logger.Warn("skipping malformed detection entry",
				zap.String("surveillance_id", surveillanceID),
				zap.String("detection_id", id),
				zap.Error(err))
			continue
		}
		d.ID = id
		detections = append(detections, d)
	}
	sort.Slice(detections, func(i, j int) bool {
		if detections[i].Timestamp != detections[j].Timestamp {
			return detections[i].Timestamp > detections[j].Timestamp
		}
		return detections[i].ID < detections[j].ID
	})
	return detections, nil
}

func (s *RedisStore) DeleteDetection(ctx context.Context, surveillanceID, detectionID string) error {
	if err := s.client.HDel(ctx, detectionPrefix+surveillanceID, detectionID).Err(); err != nil {
		return &StoreError{Op: "delete", Path: detectionPath(surveillanceID, detectionID), Err: err}
	}
	return nil
}

// SaveSettings persists the cooldown intervals for a device.
func (s *RedisStore) SaveSettings(ctx context.Context, surveillanceID string, settings models.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return &StoreError{Op: "put", Path: settingsPath(surveillanceID), Err: err}
	}
	if err := s.client.Set(ctx, settingsPrefix+surveillanceID, data, 0).Err(); err != nil {
		return &StoreError{Op: "put", Path: settingsPath(surveillanceID), Err: err}
	}
	return nil
}

// GetSettings returns the stored intervals, or ErrNotFound when none were
// ever saved. The caller decides the fallback; the surveillance run seeds the
// record from its configured cooldowns.
func (s *RedisStore) GetSettings(ctx context.Context, surveillanceID string) (models.Settings, error) {
	data, err := s.client.Get(ctx, settingsPrefix+surveillanceID).Bytes()
	if err == redis.Nil {
		return models.Settings{}, &StoreError{Op: "get", Path: settingsPath(surveillanceID), Err: ErrNotFound}
	}
	if err != nil {
		return models.Settings{}, &StoreError{Op: "get", Path: settingsPath(surveillanceID), Err: err}
	}
	var settings models.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return models.Settings{}, &StoreError{Op: "get", Path: settingsPath(surveillanceID), Err: err}
	}
	return settings, nil
}

// SetFlag updates a flag on the device record and publishes the new value to
// the flag's channel so open subscriptions see it.
func (s *RedisStore) SetFlag(ctx context.Context, flag Flag, surveillanceID string, value bool) error {
	switch flag {
	case FlagNightMode, FlagStartCamera:
	default:
		return &StoreError{Op: "put", Path: flagPath(surveillanceID, flag), Err: fmt.Errorf("unknown flag %q", flag)}
	}

	err := s.updateDeviceRecord(ctx, surveillanceID, func(device *models.SurveillanceDevice) {
		switch flag {
		case FlagNightMode:
			device.NightMode = value
		case FlagStartCamera:
			device.StartCamera = value
		}
	})
	if err != nil {
		return &StoreError{Op: "put", Path: flagPath(surveillanceID, flag), Err: err}
	}
	if err := s.client.Publish(ctx, flagChannel(surveillanceID, flag), boolPayload(value)).Err(); err != nil {
		return &StoreError{Op: "publish", Path: flagPath(surveillanceID, flag), Err: err}
	}
	return nil
}

func (s *RedisStore) GetFlag(ctx context.Context, flag Flag, surveillanceID string) (bool, error) {
	device, err := s.getDeviceRecord(ctx, surveillanceID)
	if err != nil {
		return false, err
	}
	switch flag {
	case FlagNightMode:
		return device.NightMode, nil
	case FlagStartCamera:
		return device.StartCamera, nil
	default:
		return false, &StoreError{Op: "get", Path: flagPath(surveillanceID, flag), Err: fmt.Errorf("unknown flag %q", flag)}
	}
}

// ObserveFlag opens a pub/sub subscription on the flag's channel. The current
// value is emitted first, then every published change. The channel buffers a
// single value; a slow consumer sees only the most recent one.
func (s *RedisStore) ObserveFlag(ctx context.Context, flag Flag, surveillanceID string) (<-chan bool, func(), error) {
	current, err := s.GetFlag(ctx, flag, surveillanceID)
	if err != nil {
		return nil, nil, err
	}

	sub := s.client.Subscribe(ctx, flagChannel(surveillanceID, flag))
	// Force the subscription onto the wire before returning so a Set issued
	// right after ObserveFlag cannot slip past it.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, &StoreError{Op: "subscribe", Path: flagPath(surveillanceID, flag), Err: err}
	}

	updates := make(chan bool, 1)
	done := make(chan struct{})

	emit := func(v bool) {
		// Latest value wins: drop the stale buffered value if the consumer
		// has not drained it yet.
		for {
			select {
			case updates <- v:
				return
			case <-done:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	}

	go func() {
		defer close(updates)
		emit(current)
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				emit(msg.Payload == "1")
			}
		}
	}()

	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
		if err := sub.Close(); err != nil {
			s.logger.Warn("closing flag subscription",
				zap.String("surveillance_id", surveillanceID),
				zap.String("flag", string(flag)),
				zap.Error(err))
		}
	}
	return updates, stop, nil
}

func boolPayload(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func flagChannel(surveillanceID string, flag Flag) string {
	return flagChanPrefix + surveillanceID + ":" + string(flag)
}

func devicePath(id string) string { return "surveillance_devices/" + id }

func overlookerPath(sid, oid string) string {
	return "surveillance_devices/" + sid + "/overlookers/" + oid
}

func detectionPath(sid, did string) string {
	return "surveillance_devices/" + sid + "/detections/" + did
}

func settingsPath(sid string) string { return "surveillance_settings/" + sid }

func tokenPath(id string) string { return "fcm_tokens/" + id }

func flagPath(sid string, flag Flag) string {
	return "surveillance_devices/" + sid + "/" + string(flag)
}

var _ Store = (*RedisStore)(nil)
