// Package config loads labelscan settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/kdimtricp/labelscan/internal/camera"
	"github.com/kdimtricp/labelscan/internal/capture"
	"github.com/kdimtricp/labelscan/internal/export"
	"github.com/kdimtricp/labelscan/internal/ocr"
	"github.com/kdimtricp/labelscan/internal/stability"
)

const (
	EnvPrefix      = "LABELSCAN"
	configName     = ".labelscan"
	configType     = "yaml"
	defaultMaxBody = 10 << 20
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Stability StabilityConfig `mapstructure:"stability"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Export    ExportConfig    `mapstructure:"export"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	MaxUploadSize int64         `mapstructure:"max_upload_size"`
	FrameMaxAge   time.Duration `mapstructure:"frame_max_age"`
}

type OCRConfig struct {
	Provider string        `mapstructure:"provider"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
	RetryMax int           `mapstructure:"retry_max"`
}

type StabilityConfig struct {
	Threshold    float64       `mapstructure:"threshold"`
	MinStable    time.Duration `mapstructure:"min_stable"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	SampleWidth  int           `mapstructure:"sample_width"`
	SampleHeight int           `mapstructure:"sample_height"`
	SampleStride int           `mapstructure:"sample_stride"`
	Interval     time.Duration `mapstructure:"interval"`
}

type CaptureConfig struct {
	WidthFraction   float64 `mapstructure:"width_fraction"`
	Quality         int     `mapstructure:"quality"`
	MinPayloadBytes int     `mapstructure:"min_payload_bytes"`
}

type ExportConfig struct {
	Dir          string        `mapstructure:"dir"`
	Locale       string        `mapstructure:"locale"`
	ShareURL     string        `mapstructure:"share_url"`
	ShareTimeout time.Duration `mapstructure:"share_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type CameraConfig struct {
	FFmpeg      string `mapstructure:"ffmpeg"`
	Device      string `mapstructure:"device"`
	InputFormat string `mapstructure:"input_format"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	Realtime    bool   `mapstructure:"realtime"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// New returns a viper instance with every key defaulted and bound to the
// environment. Keys map to LABELSCAN_<SECTION>_<KEY>; the OCR credentials
// also honour the ARK_* variables.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("ocr.api_key", EnvPrefix+"_OCR_API_KEY", "ARK_API_KEY", "API_KEY")
	v.BindEnv("ocr.base_url", EnvPrefix+"_OCR_BASE_URL", "ARK_API_BASE")
	v.BindEnv("ocr.model", EnvPrefix+"_OCR_MODEL", "ARK_MODEL")
	return v
}

func SetDefaults(v *viper.Viper) {
	o := ocr.NewConfig()
	st := stability.DefaultConfig()
	cp := capture.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_upload_size", defaultMaxBody)
	v.SetDefault("server.frame_max_age", 2*time.Second)

	v.SetDefault("ocr.provider", o.Provider)
	v.SetDefault("ocr.api_key", "")
	v.SetDefault("ocr.base_url", o.BaseURL)
	v.SetDefault("ocr.model", o.Model)
	v.SetDefault("ocr.timeout", o.Timeout)
	v.SetDefault("ocr.retry_max", o.RetryMax)

	v.SetDefault("stability.threshold", st.Threshold)
	v.SetDefault("stability.min_stable", st.MinStable)
	v.SetDefault("stability.cooldown", st.Cooldown)
	v.SetDefault("stability.sample_width", st.SampleWidth)
	v.SetDefault("stability.sample_height", st.SampleHeight)
	v.SetDefault("stability.sample_stride", st.SampleStride)
	v.SetDefault("stability.interval", st.Interval)

	v.SetDefault("capture.width_fraction", cp.WidthFraction)
	v.SetDefault("capture.quality", cp.Quality)
	v.SetDefault("capture.min_payload_bytes", cp.MinPayloadBytes)

	v.SetDefault("export.dir", "./exports")
	v.SetDefault("export.locale", string(export.LocaleZH))
	v.SetDefault("export.share_url", "")
	v.SetDefault("export.share_timeout", 15*time.Second)

	v.SetDefault("database.path", "./labelscan.db")

	v.SetDefault("camera.ffmpeg", "")
	v.SetDefault("camera.device", "/dev/video0")
	v.SetDefault("camera.input_format", "v4l2")
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)
	v.SetDefault("camera.realtime", false)

	v.SetDefault("log.level", "info")
}

// ReadFile reads cfgFile, or $HOME/.labelscan.yaml when cfgFile is empty.
// A missing default file is not an error.
func ReadFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("locating home directory: %w", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName(configName)
		v.SetConfigType(configType)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Load decodes v into a Config and checks it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.OCR.Provider) {
	case ocr.ProviderArk, ocr.ProviderGoogle:
	default:
		return fmt.Errorf("invalid ocr.provider %q (want %s or %s)", c.OCR.Provider, ocr.ProviderArk, ocr.ProviderGoogle)
	}
	if c.Capture.WidthFraction <= 0 || c.Capture.WidthFraction > 1 {
		return fmt.Errorf("capture.width_fraction must be in (0,1], got %v", c.Capture.WidthFraction)
	}
	if c.Capture.Quality < 1 || c.Capture.Quality > 100 {
		return fmt.Errorf("capture.quality must be between 1 and 100, got %d", c.Capture.Quality)
	}
	if c.Stability.Threshold <= 0 || c.Stability.Threshold >= 1 {
		return fmt.Errorf("stability.threshold must be in (0,1), got %v", c.Stability.Threshold)
	}
	if c.Server.MaxUploadSize <= 0 {
		return fmt.Errorf("server.max_upload_size must be positive")
	}
	return nil
}

func (c *Config) OCRConfig() *ocr.Config {
	o := ocr.NewConfig()
	o.Provider = strings.ToLower(c.OCR.Provider)
	o.APIKey = c.OCR.APIKey
	o.BaseURL = strings.TrimRight(c.OCR.BaseURL, "/")
	o.Model = c.OCR.Model
	if c.OCR.Timeout > 0 {
		o.Timeout = c.OCR.Timeout
	}
	if c.OCR.RetryMax >= 0 {
		o.RetryMax = c.OCR.RetryMax
	}
	return o
}

func (c *Config) StabilityConfig() stability.Config {
	return stability.Config{
		Threshold:    c.Stability.Threshold,
		MinStable:    c.Stability.MinStable,
		Cooldown:     c.Stability.Cooldown,
		SampleWidth:  c.Stability.SampleWidth,
		SampleHeight: c.Stability.SampleHeight,
		SampleStride: c.Stability.SampleStride,
		Interval:     c.Stability.Interval,
	}
}

func (c *Config) CaptureConfig() capture.Config {
	return capture.Config{
		WidthFraction:   c.Capture.WidthFraction,
		Quality:         c.Capture.Quality,
		MinPayloadBytes: c.Capture.MinPayloadBytes,
		Timeout:         c.OCR.Timeout,
	}
}

func (c *Config) FFmpegConfig() camera.FFmpegConfig {
	return camera.FFmpegConfig{
		FFmpegPath:  c.Camera.FFmpeg,
		Device:      c.Camera.Device,
		InputFormat: c.Camera.InputFormat,
		Width:       c.Camera.Width,
		Height:      c.Camera.Height,
		Realtime:    c.Camera.Realtime,
	}
}

// ExpandPath resolves a leading ~ in configured paths.
func ExpandPath(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	return filepath.Clean(expanded), nil
}
