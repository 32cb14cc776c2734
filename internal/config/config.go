package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "audiocapture"
	envPrefix  = "AUDIOCAPTURE"
)

type Config struct {
	ActivationTimeoutMs int    `mapstructure:"activation_timeout_ms"`
	PollIntervalMs      int    `mapstructure:"poll_interval_ms"`
	StopTimeoutMs       int    `mapstructure:"stop_timeout_ms"`
	LoopbackMode        string `mapstructure:"loopback_mode"`
	AllowDeviceFallback bool   `mapstructure:"allow_device_fallback"`
	RequireAudioSession bool   `mapstructure:"require_audio_session"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		ActivationTimeoutMs: 10000,
		PollIntervalMs:      5,
		StopTimeoutMs:       1000,
		LoopbackMode:        "include",
		AllowDeviceFallback: true,
		RequireAudioSession: true,
		LogLevel:            "info",
		LogFormat:           "text",
		LogMaxSizeMB:        10,
		LogMaxBackups:       3,
	}
}

// Load reads cfgFile, or audiocapture.yaml from the platform config
// directory or the working directory, and applies AUDIOCAPTURE_* overrides.
// A missing default file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("activation_timeout_ms", cfg.ActivationTimeoutMs)
	v.SetDefault("poll_interval_ms", cfg.PollIntervalMs)
	v.SetDefault("stop_timeout_ms", cfg.StopTimeoutMs)
	v.SetDefault("loopback_mode", cfg.LoopbackMode)
	v.SetDefault("allow_device_fallback", cfg.AllowDeviceFallback)
	v.SetDefault("require_audio_session", cfg.RequireAudioSession)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
}

func (c *Config) ActivationTimeout() time.Duration {
	return time.Duration(c.ActivationTimeoutMs) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutMs) * time.Millisecond
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "AudioCapture")
	case "darwin":
		return "/Library/Application Support/AudioCapture"
	default:
		return "/etc/audiocapture"
	}
}
