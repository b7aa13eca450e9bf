// Package config provides configuration loading and validation for squatctl.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Youngkwon-Lee/sol-dapp-squat/squat"
)

// Sentinel validation errors.
var (
	ErrInvalidMode        = errors.New("invalid detector mode")
	ErrInvalidDevice      = errors.New("invalid capture device")
	ErrInvalidTarget      = errors.New("target repetitions must be positive")
	ErrInvalidSampling    = errors.New("sample_every must be positive")
	ErrInvalidFrameRate   = errors.New("frame rate must be positive")
	ErrInvalidBackend     = errors.New("invalid storage backend")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidLogFormat   = errors.New("invalid log format")
	ErrInvalidMintTimeout = errors.New("mint timeout must be positive")
	ErrInvalidPoseTimeout = errors.New("pose timeout must be positive")
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Capture devices. Pixel thresholds of front-view detection depend on capture resolution.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
)

// Default configuration values.
const (
	defaultTargetReps    = 30
	defaultSampleEvery   = 1
	defaultFallbackAfter = 90
	defaultFrameRate     = 30.0
	defaultMaxNoMatch    = 30
	defaultDescendAngle  = 100.0
	defaultAscendAngle   = 150.0
	defaultMintName      = "Squat Challenge NFT"
	defaultMintSymbol    = "SQUAT"
)

// Config holds all configuration for squatctl.
type Config struct {
	Detector DetectorConfig `mapstructure:"detector"`
	Session  SessionConfig  `mapstructure:"session"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Mint     MintConfig     `mapstructure:"mint"`
	Pose     PoseConfig     `mapstructure:"pose"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DetectorConfig holds repetition detector thresholds.
// Zero pixel thresholds fall back to the preset of Device.
type DetectorConfig struct {
	Mode                 string  `mapstructure:"mode"`
	Device               string  `mapstructure:"device"`
	DescendThreshold     float64 `mapstructure:"descend_threshold"`
	AscendThreshold      float64 `mapstructure:"ascend_threshold"`
	DescendAngle         float64 `mapstructure:"descend_angle"`
	AscendAngle          float64 `mapstructure:"ascend_angle"`
	VisibilityConfidence float64 `mapstructure:"visibility_confidence"`
	FeatureConfidence    float64 `mapstructure:"feature_confidence"`
	ReferenceFrameHeight float64 `mapstructure:"reference_frame_height"`
}

// SessionConfig holds tracking session behavior.
type SessionConfig struct {
	TargetReps          int     `mapstructure:"target_reps"`
	SampleEvery         int     `mapstructure:"sample_every"`
	FallbackAfterErrors int     `mapstructure:"fallback_after_errors"`
	FrameRate           float64 `mapstructure:"frame_rate"`
	Smoothing           bool    `mapstructure:"smoothing"`
	SubjectMaxNoMatch   int     `mapstructure:"subject_max_no_match"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Path     string         `mapstructure:"path"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds connection details for PostgreSQL.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// MintConfig holds token-issuance service settings.
type MintConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Name     string        `mapstructure:"name"`
	Symbol   string        `mapstructure:"symbol"`
	URI      string        `mapstructure:"uri"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PoseConfig holds pose-estimation service settings.
type PoseConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds Prometheus endpoint settings. Empty Listen disables the endpoint.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("squat")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
	}

	viperCfg.SetEnvPrefix("SQUAT")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, errors.Wrap(readErr, "failed to read config file")
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, errors.Wrap(unmarshalErr, "failed to unmarshal config")
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, errors.Wrap(validateErr, "invalid configuration")
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	// Detector defaults.
	viperCfg.SetDefault("detector.mode", "front")
	viperCfg.SetDefault("detector.device", DeviceDesktop)
	viperCfg.SetDefault("detector.descend_threshold", 0.0)
	viperCfg.SetDefault("detector.ascend_threshold", 0.0)
	viperCfg.SetDefault("detector.descend_angle", defaultDescendAngle)
	viperCfg.SetDefault("detector.ascend_angle", defaultAscendAngle)
	viperCfg.SetDefault("detector.visibility_confidence", squat.DefaultVisibilityConfidence)
	viperCfg.SetDefault("detector.feature_confidence", squat.DefaultFeatureConfidence)
	viperCfg.SetDefault("detector.reference_frame_height", 0.0)

	// Session defaults.
	viperCfg.SetDefault("session.target_reps", defaultTargetReps)
	viperCfg.SetDefault("session.sample_every", defaultSampleEvery)
	viperCfg.SetDefault("session.fallback_after_errors", defaultFallbackAfter)
	viperCfg.SetDefault("session.frame_rate", defaultFrameRate)
	viperCfg.SetDefault("session.smoothing", false)
	viperCfg.SetDefault("session.subject_max_no_match", defaultMaxNoMatch)

	// Storage defaults.
	viperCfg.SetDefault("storage.backend", BackendFile)
	viperCfg.SetDefault("storage.path", "workouts.json")
	viperCfg.SetDefault("storage.postgres.host", "localhost")
	viperCfg.SetDefault("storage.postgres.port", "5432")
	viperCfg.SetDefault("storage.postgres.dbname", "squat")

	// Mint defaults.
	viperCfg.SetDefault("mint.endpoint", "")
	viperCfg.SetDefault("mint.name", defaultMintName)
	viperCfg.SetDefault("mint.symbol", defaultMintSymbol)
	viperCfg.SetDefault("mint.timeout", "30s")

	// Pose service defaults.
	viperCfg.SetDefault("pose.endpoint", "")
	viperCfg.SetDefault("pose.timeout", "10s")

	// Metrics defaults.
	viperCfg.SetDefault("metrics.listen", "")

	// Logging defaults.
	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "text")
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if _, err := squat.ParseMode(config.Detector.Mode); err != nil {
		return errors.Wrapf(ErrInvalidMode, "'%s'", config.Detector.Mode)
	}

	switch config.Detector.Device {
	case DeviceDesktop, DeviceMobile:
	default:
		return errors.Wrapf(ErrInvalidDevice, "'%s'", config.Detector.Device)
	}

	if config.Session.TargetReps <= 0 {
		return errors.Wrapf(ErrInvalidTarget, "%d", config.Session.TargetReps)
	}

	if config.Session.SampleEvery <= 0 {
		return errors.Wrapf(ErrInvalidSampling, "%d", config.Session.SampleEvery)
	}

	if config.Session.FrameRate <= 0 {
		return errors.Wrapf(ErrInvalidFrameRate, "%v", config.Session.FrameRate)
	}

	switch config.Storage.Backend {
	case BackendFile, BackendPostgres:
	default:
		return errors.Wrapf(ErrInvalidBackend, "'%s'", config.Storage.Backend)
	}

	switch strings.ToLower(config.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Wrapf(ErrInvalidLogLevel, "'%s'", config.Logging.Level)
	}

	switch config.Logging.Format {
	case "text", "json":
	default:
		return errors.Wrapf(ErrInvalidLogFormat, "'%s'", config.Logging.Format)
	}

	if config.Mint.Timeout <= 0 {
		return errors.Wrapf(ErrInvalidMintTimeout, "%v", config.Mint.Timeout)
	}

	if config.Pose.Timeout <= 0 {
		return errors.Wrapf(ErrInvalidPoseTimeout, "%v", config.Pose.Timeout)
	}

	for _, mode := range []squat.Mode{squat.FrontView, squat.SideView} {
		if err := config.Detector.For(mode).Validate(); err != nil {
			return errors.Wrapf(err, "detector %s", mode)
		}
	}

	return nil
}

// For builds detector configuration for given mode.
func (dc DetectorConfig) For(mode squat.Mode) squat.Config {
	var cfg squat.Config

	if mode == squat.SideView {
		cfg = squat.SideConfig()
		cfg.DescendThreshold = dc.DescendAngle
		cfg.AscendThreshold = dc.AscendAngle
	} else {
		cfg = squat.DesktopFrontConfig()
		if dc.Device == DeviceMobile {
			cfg = squat.MobileFrontConfig()
		}
		if dc.DescendThreshold > 0 {
			cfg.DescendThreshold = dc.DescendThreshold
		}
		if dc.AscendThreshold > 0 {
			cfg.AscendThreshold = dc.AscendThreshold
		}
		cfg.ReferenceFrameHeight = dc.ReferenceFrameHeight
	}

	cfg.VisibilityConfidence = dc.VisibilityConfidence
	cfg.FeatureConfidence = dc.FeatureConfidence

	return cfg
}

// DefaultMode returns parsed detector mode.
func (dc DetectorConfig) DefaultMode() squat.Mode {
	mode, err := squat.ParseMode(dc.Mode)
	if err != nil {
		return squat.FrontView
	}

	return mode
}
