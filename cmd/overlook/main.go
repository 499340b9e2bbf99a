package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/audio"
	"github.com/yashwanth-gh/overlook/internal/config"
	"github.com/yashwanth-gh/overlook/internal/coordinator"
	"github.com/yashwanth-gh/overlook/internal/framefeed"
	"github.com/yashwanth-gh/overlook/internal/identity"
	"github.com/yashwanth-gh/overlook/internal/imagestore"
	"github.com/yashwanth-gh/overlook/internal/logging"
	"github.com/yashwanth-gh/overlook/internal/models"
	"github.com/yashwanth-gh/overlook/internal/notify"
	"github.com/yashwanth-gh/overlook/internal/pairing"
	"github.com/yashwanth-gh/overlook/internal/statesync"
	"github.com/yashwanth-gh/overlook/internal/store"
	"github.com/yashwanth-gh/overlook/internal/video"
	"github.com/yashwanth-gh/overlook/internal/vision"
)

// deviceRefreshInterval paces the re-read of the remote device record and
// settings while a surveillance run is active.
const deviceRefreshInterval = time.Minute

// Application struct that holds all components
type Application struct {
	cfg      *config.Config
	logger   *zap.Logger
	identity *identity.Manager
	store    *store.RedisStore
	sync     *statesync.Synchronizer
}

func main() {
	mode := flag.String("mode", "", "role: surveillance or overlooker (defaults to the stored mode)")
	pairCode := flag.String("pair-code", "", "6-character pairing code (overlooker mode)")
	pushToken := flag.String("push-token", "", "addressing token for push notifications to this device")
	setFlag := flag.String("set-flag", "", "remote flag update, e.g. nightMode=true or startCamera=false (overlooker mode)")
	unpair := flag.Bool("unpair", false, "remove this device's link to its surveillance device (overlooker mode)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Development, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("application init failed", zap.Error(err))
	}
	defer app.Cleanup()

	role := *mode
	if role == "" {
		role = app.identity.Mode()
	}
	if role == "" {
		role = models.ModeSurveillance
	}
	if role != app.identity.Mode() {
		if err := app.identity.SetMode(role); err != nil {
			logger.Fatal("persisting mode failed", zap.Error(err))
		}
	}

	switch role {
	case models.ModeOverlooker:
		err = app.runOverlooker(ctx, *pairCode, *pushToken, *setFlag, *unpair)
	case models.ModeSurveillance:
		err = app.runSurveillance(ctx, *pushToken)
	default:
		err = fmt.Errorf("unknown mode %q", role)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("run failed", zap.Error(err))
	}
}

func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	ident, err := identity.Load(cfg.Service.IdentityPath)
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	st, err := store.NewRedisStore(ctx, store.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to store: %w", err)
	}

	return &Application{
		cfg:      cfg,
		logger:   logger,
		identity: ident,
		store:    st,
		sync:     statesync.New(st, logger),
	}, nil
}

func (app *Application) Cleanup() {
	if app.sync != nil {
		app.sync.Close()
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

// runSurveillance registers this device, starts the capture session bound to
// its remote flags, and feeds analyzed frames to the event coordinator until
// the process is signaled.
func (app *Application) runSurveillance(ctx context.Context, pushToken string) error {
	deviceID := app.identity.DeviceID()
	logger := app.logger

	// Register only on first run so remote flags survive restarts.
	device, err := app.store.GetDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		device = &models.SurveillanceDevice{
			ID: deviceID,
			User: models.User{
				Username: app.cfg.Service.DeviceName,
				Email:    app.cfg.Service.UserEmail,
			},
		}
		if err := app.store.RegisterDevice(ctx, *device); err != nil {
			return fmt.Errorf("registering device: %w", err)
		}
		device, err = app.store.GetDevice(ctx, deviceID)
	}
	if err != nil {
		return fmt.Errorf("loading device record: %w", err)
	}
	logger.Info("surveillance device ready",
		zap.String("device_id", deviceID),
		zap.String("pairing_code", device.PairingCode))

	if pushToken != "" {
		if err := app.store.SaveToken(ctx, deviceID, pushToken); err != nil {
			return fmt.Errorf("saving push token: %w", err)
		}
	}

	if err := app.store.SetStatus(ctx, deviceID, models.StatusActive); err != nil {
		return fmt.Errorf("activating device: %w", err)
	}
	defer func() {
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.store.SetStatus(offCtx, deviceID, models.StatusInactive); err != nil {
			logger.Warn("deactivating device failed", zap.Error(err))
		}
	}()

	settings, err := app.store.GetSettings(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		// First run: seed the remote record from the configured cooldowns so
		// paired overlookers can read and adjust them.
		settings = app.cfg.Cooldowns.Settings()
		if err := app.store.SaveSettings(ctx, deviceID, settings); err != nil {
			logger.Warn("seeding settings failed", zap.Error(err))
		}
	} else if err != nil {
		logger.Warn("loading settings failed, using configured cooldowns", zap.Error(err))
		settings = app.cfg.Cooldowns.Settings()
	}

	images, err := imagestore.New(imagestore.Config{
		Endpoint:        app.cfg.MinIO.Endpoint,
		AccessKeyID:     app.cfg.MinIO.AccessKey,
		SecretAccessKey: app.cfg.MinIO.SecretKey,
		UseSSL:          app.cfg.MinIO.UseSSL,
		Bucket:          app.cfg.MinIO.Bucket,
	}, logger)
	if err != nil {
		return fmt.Errorf("connecting to image store: %w", err)
	}

	pusher, err := notify.NewPusher(ctx, notify.PushConfig{
		Endpoint:        app.cfg.Push.Endpoint,
		CredentialsFile: app.cfg.Push.CredentialsFile,
		SendTimeout:     app.cfg.Push.SendTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating pusher: %w", err)
	}
	mailer := notify.NewMailer(notify.EmailConfig{
		Endpoint:    app.cfg.Email.Endpoint,
		SendTimeout: app.cfg.Email.SendTimeout,
	}, logger)
	dispatcher := notify.NewDispatcher(app.store, pusher, mailer, logger)

	alerter := newAlerter(app.cfg.Service.AlertCommand, logger)
	coord := coordinator.New(deviceID, settings, alerter, dispatcher, app.store, images, logger)
	coord.SetDeviceSnapshot(device)

	feed := framefeed.New()
	camera := video.NewCamera(app.cfg.Camera.StreamURL, feed, logger)
	torch := newTorch(app.cfg.Torch.DevicePath, logger)
	sound := audio.NewDetector(audio.Config{
		Threshold:     app.cfg.Sound.Threshold,
		CheckInterval: app.cfg.Sound.CheckInterval,
		Cooldown:      app.cfg.Sound.Cooldown,
	}, audio.FileSourceFactory(app.cfg.Sound.SourcePath, app.cfg.Sound.ChunkSamples), logger)

	session := coordinator.NewSession(deviceID, app.sync, camera, torch, sound, logger)
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer session.Stop()

	analyzer := vision.NewRemoteAnalyzer(vision.Config{
		Endpoint:      app.cfg.Vision.Endpoint,
		Timeout:       app.cfg.Vision.Timeout,
		MinConfidence: float32(app.cfg.Vision.MinConfidence),
	}, logger)

	go app.refreshLoop(ctx, deviceID, coord)
	go app.detectionLoop(ctx, feed, analyzer, coord)

	<-ctx.Done()
	// The session goes first: a buffered flag update drained during shutdown
	// must not restart capture into a closing feed.
	session.Stop()
	camera.StopCapture()
	feed.Close()
	coord.Wait()
	stats := feed.Stats()
	logger.Info("surveillance run finished",
		zap.Int64("frames_published", stats.Published),
		zap.Int64("frames_dropped", stats.Dropped))
	return nil
}

// detectionLoop drains the frame feed through the analyzer and hands person
// detections to the coordinator. Analysis errors skip the frame.
func (app *Application) detectionLoop(ctx context.Context, feed *framefeed.Feed, analyzer vision.Analyzer, coord *coordinator.Coordinator) {
	for frame := range feed.Frames() {
		results, err := analyzer.Analyze(ctx, frame.Image)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			app.logger.Warn("frame analysis failed", zap.Error(err))
			continue
		}
		coord.HandleDetections(ctx, results, frame.Image)
	}
}

// refreshLoop re-reads the device record and settings so newly paired
// overlookers and remote cooldown changes take effect without a restart.
func (app *Application) refreshLoop(ctx context.Context, deviceID string, coord *coordinator.Coordinator) {
	ticker := time.NewTicker(deviceRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if device, err := app.store.GetDevice(ctx, deviceID); err == nil {
				coord.SetDeviceSnapshot(device)
			} else {
				app.logger.Warn("device refresh failed", zap.Error(err))
			}
			if settings, err := app.store.GetSettings(ctx, deviceID); err == nil {
				coord.ApplySettings(settings)
			}
		}
	}
}

// runOverlooker performs one overlooker action: pair with a code, update a
// remote flag, or unpair.
func (app *Application) runOverlooker(ctx context.Context, pairCode, pushToken, setFlag string, unpair bool) error {
	overlookerID := app.identity.DeviceID()

	tokenProvider := func(ctx context.Context) (string, error) {
		if pushToken == "" {
			return "", errors.New("no push token configured")
		}
		return pushToken, nil
	}
	svc := pairing.NewService(app.store, app.identity, tokenProvider, app.logger)
	svc.OnStateChange(func(state pairing.State) {
		switch state.Kind {
		case pairing.StateLoading:
			app.logger.Info("pairing in progress")
		case pairing.StateSuccess:
			app.logger.Info("pairing succeeded", zap.String("surveillance_id", state.SurveillanceID))
		case pairing.StateError:
			app.logger.Warn("pairing failed", zap.Error(state.Err))
		}
	})

	if pairCode != "" {
		if pushToken != "" {
			if err := app.store.SaveToken(ctx, overlookerID, pushToken); err != nil {
				return fmt.Errorf("saving push token: %w", err)
			}
		}
		surveillanceID, err := svc.Pair(ctx, pairCode, overlookerID, models.User{
			Username: app.cfg.Service.DeviceName,
			Email:    app.cfg.Service.UserEmail,
		})
		if err != nil {
			return fmt.Errorf("pairing: %w", err)
		}
		app.notifyPairingSuccess(ctx, surveillanceID)
		fmt.Printf("Paired with surveillance device %s\n", surveillanceID)
		return nil
	}

	surveillanceID := app.identity.LinkedSurveillanceID()
	if surveillanceID == "" {
		return errors.New("not paired: supply -pair-code first")
	}

	if unpair {
		if err := svc.Unpair(ctx, surveillanceID, overlookerID); err != nil {
			return fmt.Errorf("unpairing: %w", err)
		}
		if err := app.identity.SaveLinkedSurveillanceID(""); err != nil {
			return fmt.Errorf("clearing link: %w", err)
		}
		fmt.Println("Unpaired")
		return nil
	}

	if setFlag != "" {
		flagName, value, err := parseFlagUpdate(setFlag)
		if err != nil {
			return err
		}
		if err := app.sync.Set(ctx, flagName, surveillanceID, value); err != nil {
			return fmt.Errorf("setting flag: %w", err)
		}
		fmt.Printf("Set %s=%v on %s\n", flagName, value, surveillanceID)
		return nil
	}

	return errors.New("nothing to do: supply -pair-code, -set-flag, or -unpair")
}

// notifyPairingSuccess tells the surveillance device a new overlooker
// arrived. Best-effort: pairing already committed.
func (app *Application) notifyPairingSuccess(ctx context.Context, surveillanceID string) {
	pusher, err := notify.NewPusher(ctx, notify.PushConfig{
		Endpoint:        app.cfg.Push.Endpoint,
		CredentialsFile: app.cfg.Push.CredentialsFile,
		SendTimeout:     app.cfg.Push.SendTimeout,
	}, app.logger)
	if err != nil {
		app.logger.Warn("push unavailable, skipping pairing notification", zap.Error(err))
		return
	}
	mailer := notify.NewMailer(notify.EmailConfig{
		Endpoint:    app.cfg.Email.Endpoint,
		SendTimeout: app.cfg.Email.SendTimeout,
	}, app.logger)
	dispatcher := notify.NewDispatcher(app.store, pusher, mailer, app.logger)
	dispatcher.NotifyPairingSuccess(ctx, surveillanceID, app.cfg.Service.DeviceName)
}

func parseFlagUpdate(s string) (store.Flag, bool, error) {
	name, rawValue, found := strings.Cut(s, "=")
	if !found {
		return "", false, fmt.Errorf("invalid flag update %q, want name=value", s)
	}

	var flagName store.Flag
	switch name {
	case string(store.FlagNightMode):
		flagName = store.FlagNightMode
	case string(store.FlagStartCamera):
		flagName = store.FlagStartCamera
	default:
		return "", false, fmt.Errorf("unknown flag %q", name)
	}

	switch rawValue {
	case "true", "1":
		return flagName, true, nil
	case "false", "0":
		return flagName, false, nil
	default:
		return "", false, fmt.Errorf("invalid flag value %q", rawValue)
	}
}
