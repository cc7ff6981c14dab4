package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	ProgressStoreFile     = "file"
	ProgressStorePostgres = "postgres"

	EstimatorHTTP      = "http"
	EstimatorWebSocket = "websocket"

	CameraMJPEG = "mjpeg"
	CameraDir   = "dir"
)

type Config struct {
	Environment string `toml:"-"`

	Host string `toml:"host"`
	Port int    `toml:"port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`

	// camera
	CameraType       string `toml:"camera_type"`
	CameraURL        string `toml:"camera_url"`
	CameraDir        string `toml:"camera_dir"`
	CameraFPS        int    `toml:"camera_fps"`
	CameraMirror     bool   `toml:"camera_mirror"`
	FrameJPEGQuality int    `toml:"frame_jpeg_quality"`

	// pose estimation
	EstimatorType       string `toml:"estimator_type"`
	EstimatorURL        string `toml:"estimator_url"`
	EstimatorTimeoutSec int    `toml:"estimator_timeout_sec"`
	EstimatorRetries    uint   `toml:"estimator_retries"`

	// reference poses
	ReferencesPath  string   `toml:"references_path"`
	ReferenceImages string   `toml:"reference_images_path"`
	PoseNames       []string `toml:"pose_names"`

	// progress
	ProgressStore string `toml:"progress_store"`
	ProgressFile  string `toml:"progress_file"`

	// postgres (progress_store = "postgres")
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`

	// redis (empty host -> in memory rate limiting, no admin login)
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`

	ActionRateLimitPerMin int `toml:"action_rate_limit_per_min"`
	LoginRateLimitPerMin  int `toml:"login_rate_limit_per_min"`

	AllowedOrigins []string `toml:"allowed_origins"`
}

type Toml struct {
	Development *Config
	Production  *Config
	DockerDev   *Config `toml:"dockerdev"`
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	case "ddev", "dockerdev":
		cfg = t.DockerDev
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("config for env [%s] not found", env)
	}
	cfg.Environment = strings.ToLower(env)
	return cfg, nil
}

// Load reads the TOML config file and returns the section for the given env,
// with defaults applied and validated.
func Load(env, configPath string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(configPath, &t); err != nil {
		return nil, fmt.Errorf("decode toml [%s]: %w", configPath, err)
	}

	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5000
	}
	if c.PrometheusMetricsHost == "" {
		c.PrometheusMetricsHost = "localhost"
	}
	if c.PrometheusMetricsPort == "" {
		c.PrometheusMetricsPort = "2112"
	}
	if c.CameraType == "" {
		c.CameraType = CameraMJPEG
	}
	if c.CameraFPS <= 0 {
		c.CameraFPS = 15
	}
	if c.FrameJPEGQuality <= 0 || c.FrameJPEGQuality > 100 {
		c.FrameJPEGQuality = 80
	}
	if c.EstimatorType == "" {
		c.EstimatorType = EstimatorHTTP
	}
	if c.EstimatorTimeoutSec <= 0 {
		c.EstimatorTimeoutSec = 5
	}
	if c.ReferencesPath == "" {
		c.ReferencesPath = "pose_landmarks"
	}
	if c.ReferenceImages == "" {
		c.ReferenceImages = "static/poses"
	}
	if c.ProgressStore == "" {
		c.ProgressStore = ProgressStoreFile
	}
	if c.ProgressFile == "" {
		c.ProgressFile = "progress.json"
	}
	if c.ActionRateLimitPerMin <= 0 {
		c.ActionRateLimitPerMin = 600
	}
	if c.LoginRateLimitPerMin <= 0 {
		c.LoginRateLimitPerMin = 15
	}
}

func (c *Config) Validate() error {
	switch c.CameraType {
	case CameraMJPEG:
		if c.CameraURL == "" {
			return errors.New("camera_url must be set for mjpeg camera")
		}
	case CameraDir:
		if c.CameraDir == "" {
			return errors.New("camera_dir must be set for dir camera")
		}
	default:
		return fmt.Errorf("unknown camera_type: %s", c.CameraType)
	}

	switch c.EstimatorType {
	case EstimatorHTTP, EstimatorWebSocket:
		if c.EstimatorURL == "" {
			return errors.New("estimator_url must be set")
		}
	default:
		return fmt.Errorf("unknown estimator_type: %s", c.EstimatorType)
	}

	switch c.ProgressStore {
	case ProgressStoreFile:
	case ProgressStorePostgres:
		if c.PostgresHost == "" || c.PostgresDBName == "" {
			return errors.New("postgres_host and postgres_db_name must be set for postgres progress store")
		}
	default:
		return fmt.Errorf("unknown progress_store: %s", c.ProgressStore)
	}

	return nil
}

// RedisEnabled tells if the redis backed features (admin sessions, shared rate limiting) are on.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}
