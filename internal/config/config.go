// Package config holds all application configuration. Defaults come from
// NewDefaultConfig; a .env file and the process environment override them.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/yashwanth-gh/overlook/internal/models"
)

// Config holds all application configuration
type Config struct {
	Service   ServiceConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	Push      PushConfig
	Email     EmailConfig
	Vision    VisionConfig
	Camera    CameraConfig
	Torch     TorchConfig
	Cooldowns CooldownConfig
	Sound     SoundConfig
	Log       LogConfig
}

// ServiceConfig covers the device-local pieces.
type ServiceConfig struct {
	IdentityPath string // where the minted device identity lives
	DeviceName   string // username shown to paired overlookers
	UserEmail    string // owner email stored with the device record
	AlertCommand string // shell command that plays the person alert sound
}

// RedisConfig points at the coordination store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MinIOConfig points at the snapshot bucket.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// PushConfig covers the notification gateway.
type PushConfig struct {
	Endpoint        string
	CredentialsFile string
	SendTimeout     time.Duration
}

// EmailConfig covers the mail relay.
type EmailConfig struct {
	Endpoint    string
	SendTimeout time.Duration
}

// VisionConfig points at the inference service that labels frames.
type VisionConfig struct {
	Endpoint      string
	Timeout       time.Duration
	MinConfidence float64
}

// CameraConfig points at the MJPEG camera stream.
type CameraConfig struct {
	StreamURL string
}

// TorchConfig names the brightness control file of the flash LED. Empty
// disables the torch.
type TorchConfig struct {
	DevicePath string
}

// CooldownConfig sets the initial gate intervals. Remote settings, when
// present, replace these at runtime.
type CooldownConfig struct {
	Notification time.Duration
	Save         time.Duration
	Sound        time.Duration
	Email        time.Duration
}

// Settings converts the configured cooldowns into the coordinator's settings
// shape, used to seed a device that has no remote settings record yet.
func (c CooldownConfig) Settings() models.Settings {
	return models.Settings{
		NotificationInterval: c.Notification,
		SaveInterval:         c.Save,
		SoundInterval:        c.Sound,
		EmailInterval:        c.Email,
	}
}

// SoundConfig tunes the ambient-sound detector. SourcePath is a raw
// little-endian 16-bit PCM stream, typically a FIFO fed by a capture tool.
type SoundConfig struct {
	SourcePath    string
	ChunkSamples  int
	Threshold     int
	CheckInterval time.Duration
	Cooldown      time.Duration
}

// LogConfig selects the logger flavor.
type LogConfig struct {
	Development bool
	Level       string
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			IdentityPath: "overlook-identity.json",
			DeviceName:   "overlook-device",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		MinIO: MinIOConfig{
			Endpoint: "localhost:9000",
			Bucket:   "detection-snapshots",
		},
		Push: PushConfig{
			Endpoint:        "https://fcm.googleapis.com/v1/projects/overlook/messages:send",
			CredentialsFile: "service-account.json",
			SendTimeout:     10 * time.Second,
		},
		Email: EmailConfig{
			SendTimeout: 15 * time.Second,
		},
		Vision: VisionConfig{
			Endpoint:      "http://localhost:8500/v1/detect",
			Timeout:       5 * time.Second,
			MinConfidence: 0.5,
		},
		Camera: CameraConfig{
			StreamURL: "http://localhost:8080/stream.mjpeg",
		},
		Cooldowns: CooldownConfig{
			Notification: 3 * time.Minute,
			Save:         3 * time.Minute,
			Sound:        10 * time.Second,
			Email:        3 * time.Minute,
		},
		Sound: SoundConfig{
			Threshold:     2000,
			CheckInterval: 100 * time.Millisecond,
			Cooldown:      5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the runtime configuration: defaults, then .env (when present),
// then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := NewDefaultConfig()
	cfg.loadFromEnv()

	if cfg.Email.Endpoint == "" {
		return nil, fmt.Errorf("EMAIL_ENDPOINT is required")
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() {
	setString(&c.Service.IdentityPath, "IDENTITY_PATH")
	setString(&c.Service.DeviceName, "DEVICE_NAME")
	setString(&c.Service.UserEmail, "USER_EMAIL")
	setString(&c.Service.AlertCommand, "ALERT_COMMAND")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")

	setString(&c.MinIO.Endpoint, "MINIO_ENDPOINT")
	setString(&c.MinIO.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.MinIO.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.MinIO.Bucket, "MINIO_BUCKET")
	setBool(&c.MinIO.UseSSL, "MINIO_USE_SSL")

	setString(&c.Push.Endpoint, "PUSH_ENDPOINT")
	setString(&c.Push.CredentialsFile, "PUSH_CREDENTIALS_FILE")
	setDuration(&c.Push.SendTimeout, "PUSH_SEND_TIMEOUT")

	setString(&c.Email.Endpoint, "EMAIL_ENDPOINT")
	setDuration(&c.Email.SendTimeout, "EMAIL_SEND_TIMEOUT")

	setString(&c.Vision.Endpoint, "VISION_ENDPOINT")
	setDuration(&c.Vision.Timeout, "VISION_TIMEOUT")
	setFloat(&c.Vision.MinConfidence, "VISION_MIN_CONFIDENCE")

	setString(&c.Camera.StreamURL, "CAMERA_STREAM_URL")
	setString(&c.Torch.DevicePath, "TORCH_DEVICE_PATH")

	setString(&c.Sound.SourcePath, "SOUND_SOURCE_PATH")
	setInt(&c.Sound.ChunkSamples, "SOUND_CHUNK_SAMPLES")

	setDuration(&c.Cooldowns.Notification, "COOLDOWN_NOTIFICATION")
	setDuration(&c.Cooldowns.Save, "COOLDOWN_SAVE")
	setDuration(&c.Cooldowns.Sound, "COOLDOWN_SOUND")
	setDuration(&c.Cooldowns.Email, "COOLDOWN_EMAIL")

	setInt(&c.Sound.Threshold, "SOUND_THRESHOLD")
	setDuration(&c.Sound.CheckInterval, "SOUND_CHECK_INTERVAL")
	setDuration(&c.Sound.Cooldown, "SOUND_EVENT_COOLDOWN")

	setBool(&c.Log.Development, "LOG_DEVELOPMENT")
	setString(&c.Log.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		fmt.Sscanf(v, "%d", dst)
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		fmt.Sscanf(v, "%g", dst)
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
