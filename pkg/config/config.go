package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Host struct {
		Address      string        `yaml:"address"`
		ControlPort  int           `yaml:"control_port"`
		TransferPort int           `yaml:"transfer_port"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		DialAttempts int           `yaml:"dial_attempts"`
	} `yaml:"host"`

	Camera struct {
		Role           string        `yaml:"role"`
		DeviceIndex    int           `yaml:"device_index"`
		CaptureTimeout time.Duration `yaml:"capture_timeout"`
		FPS            int           `yaml:"fps"`

		// Synthetic device geometry, used when no hardware driver is built in
		SyntheticCount int `yaml:"synthetic_count"`
		Width          int `yaml:"width"`
		Height         int `yaml:"height"`
	} `yaml:"camera"`

	Pipeline struct {
		UploadInterval     time.Duration `yaml:"upload_interval"`
		DefaultCameraCount int           `yaml:"default_camera_count"`
	} `yaml:"pipeline"`

	Spool struct {
		Root           string `yaml:"root"`
		RecoverOrphans bool   `yaml:"recover_orphans"`
	} `yaml:"spool"`

	Reconnect struct {
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
		Multiplier   float64       `yaml:"multiplier"`
		Jitter       bool          `yaml:"jitter"`
	} `yaml:"reconnect"`

	Recorder struct {
		StartTimeout time.Duration      `yaml:"start_timeout"`
		Master       RecorderRoleConfig `yaml:"master"`
		Subordinate  RecorderRoleConfig `yaml:"subordinate"`
	} `yaml:"recorder"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		StatusEnabled     bool   `yaml:"status_enabled"`
		StatusAddress     string `yaml:"status_address"`

		// Per-client limits on the status endpoints; 0 disables
		RateLimit struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"rate_limit"`
	} `yaml:"monitoring"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// RecorderRoleConfig describes the vendor recorder invocation for one sync
// role and the stdout lines it must print, in order, before recording may
// start. "{serial}" is replaced with the device serial in both. A command
// sent by the host during the handshake replaces Command.
type RecorderRoleConfig struct {
	Command   string   `yaml:"command"`
	Checklist []string `yaml:"checklist"`
}

// ControlAddress returns host:port of the control channel
func (c *Config) ControlAddress() string {
	return fmt.Sprintf("%s:%d", c.Host.Address, c.Host.ControlPort)
}

// TransferAddress returns host:port of the transfer channel
func (c *Config) TransferAddress() string {
	return fmt.Sprintf("%s:%d", c.Host.Address, c.Host.TransferPort)
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Host
	if c.Host.Address == "" {
		return fmt.Errorf("host.address must not be empty")
	}
	if c.Host.ControlPort <= 0 || c.Host.ControlPort > 65535 {
		return fmt.Errorf("host.control_port must be in 1..65535")
	}
	if c.Host.TransferPort <= 0 || c.Host.TransferPort > 65535 {
		return fmt.Errorf("host.transfer_port must be in 1..65535")
	}
	if c.Host.DialTimeout <= 0 {
		return fmt.Errorf("host.dial_timeout must be > 0")
	}
	if c.Host.DialAttempts < 0 {
		return fmt.Errorf("host.dial_attempts must be >= 0")
	}

	// Camera
	switch strings.ToLower(c.Camera.Role) {
	case "master", "subordinate", "standalone":
	default:
		return fmt.Errorf("camera.role must be one of master, subordinate, standalone")
	}
	if c.Camera.DeviceIndex < 0 {
		return fmt.Errorf("camera.device_index must be >= 0")
	}
	if c.Camera.CaptureTimeout <= 0 {
		return fmt.Errorf("camera.capture_timeout must be > 0")
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("camera.fps must be > 0")
	}
	if c.Camera.SyntheticCount < 0 {
		return fmt.Errorf("camera.synthetic_count must be >= 0")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera.width and camera.height must be > 0")
	}

	// Pipeline
	if c.Pipeline.UploadInterval <= 0 {
		return fmt.Errorf("pipeline.upload_interval must be > 0")
	}
	if c.Pipeline.DefaultCameraCount <= 0 {
		return fmt.Errorf("pipeline.default_camera_count must be > 0")
	}

	// Spool
	if c.Spool.Root == "" {
		return fmt.Errorf("spool.root must not be empty")
	}

	// Reconnect
	if c.Reconnect.InitialDelay <= 0 {
		return fmt.Errorf("reconnect.initial_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay must be >= initial_delay")
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be >= 1")
	}

	// Recorder
	if c.Recorder.StartTimeout <= 0 {
		return fmt.Errorf("recorder.start_timeout must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Monitoring
	if c.Monitoring.StatusEnabled && c.Monitoring.StatusAddress == "" {
		return fmt.Errorf("monitoring.status_address must not be empty when status_enabled=true")
	}
	if c.Monitoring.RateLimit.RequestsPerSecond < 0 || c.Monitoring.RateLimit.Burst < 0 || c.Monitoring.RateLimit.MaxConcurrent < 0 {
		return fmt.Errorf("monitoring.rate_limit values must not be negative")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Host.Address = "127.0.0.1"
	cfg.Host.ControlPort = 8080
	cfg.Host.TransferPort = 8081
	cfg.Host.DialTimeout = 5 * time.Second
	cfg.Host.DialAttempts = 2

	cfg.Camera.Role = "standalone"
	cfg.Camera.DeviceIndex = 0
	cfg.Camera.CaptureTimeout = time.Second
	cfg.Camera.FPS = 30
	cfg.Camera.SyntheticCount = 1
	cfg.Camera.Width = 640
	cfg.Camera.Height = 576

	cfg.Pipeline.UploadInterval = 100 * time.Millisecond
	cfg.Pipeline.DefaultCameraCount = 1

	cfg.Spool.Root = "spool"
	cfg.Spool.RecoverOrphans = true

	cfg.Reconnect.InitialDelay = 500 * time.Millisecond
	cfg.Reconnect.MaxDelay = 30 * time.Second
	cfg.Reconnect.Multiplier = 2.0
	cfg.Reconnect.Jitter = true

	cfg.Recorder.StartTimeout = 20 * time.Second
	cfg.Recorder.Master = RecorderRoleConfig{
		Command: "k4arecorder --external-sync master -l 10 {serial}.mkv",
		Checklist: []string{
			"Device serial number: {serial}",
			"Device version: Rel; C: 1.6.110; D: 1.6.80[6109.7]; A: 1.6.14",
			"Device started",
		},
	}
	cfg.Recorder.Subordinate = RecorderRoleConfig{
		Command: "k4arecorder --external-sync subordinate -l 10 {serial}.mkv",
		Checklist: []string{
			"Device serial number: {serial}",
			"Device version: Rel; C: 1.6.110; D: 1.6.80[6109.7]; A: 1.6.14",
			"Device started",
			"[subordinate mode] Waiting for signal from master",
		},
	}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.StatusEnabled = true
	cfg.Monitoring.StatusAddress = ":9090"
	cfg.Monitoring.RateLimit.RequestsPerSecond = 20
	cfg.Monitoring.RateLimit.Burst = 40
	cfg.Monitoring.RateLimit.MaxConcurrent = 16

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 4

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("DEPTHCAP_HOST"); addr != "" {
		c.Host.Address = addr
	}
	if role := os.Getenv("DEPTHCAP_ROLE"); role != "" {
		c.Camera.Role = role
	}
	if level := os.Getenv("DEPTHCAP_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if root := os.Getenv("DEPTHCAP_SPOOL_ROOT"); root != "" {
		c.Spool.Root = root
	}
}
