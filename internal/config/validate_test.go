package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
	if cfg.ActivationTimeout() != 10*time.Second {
		t.Fatalf("ActivationTimeout = %v, want 10s", cfg.ActivationTimeout())
	}
	if cfg.PollInterval() != 5*time.Millisecond {
		t.Fatalf("PollInterval = %v, want 5ms", cfg.PollInterval())
	}
	if cfg.StopTimeout() != time.Second {
		t.Fatalf("StopTimeout = %v, want 1s", cfg.StopTimeout())
	}
}

func TestValidateTieredUnknownLoopbackModeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.LoopbackMode = "everything"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("unknown loopback mode should be fatal")
	}
	if !strings.Contains(result.Fatals[0].Error(), "everything") {
		t.Fatalf("fatal should name the mode: %v", result.Fatals[0])
	}
}

func TestValidateTieredClampingIsWarning(t *testing.T) {
	tests := []struct {
		name  string
		set   func(*Config)
		check func(*Config) int
		want  int
	}{
		{"activation low", func(c *Config) { c.ActivationTimeoutMs = 0 }, func(c *Config) int { return c.ActivationTimeoutMs }, 100},
		{"activation high", func(c *Config) { c.ActivationTimeoutMs = 999999 }, func(c *Config) int { return c.ActivationTimeoutMs }, 60000},
		{"poll low", func(c *Config) { c.PollIntervalMs = -3 }, func(c *Config) int { return c.PollIntervalMs }, 1},
		{"poll high", func(c *Config) { c.PollIntervalMs = 500 }, func(c *Config) int { return c.PollIntervalMs }, 100},
		{"stop low", func(c *Config) { c.StopTimeoutMs = 1 }, func(c *Config) int { return c.StopTimeoutMs }, 100},
		{"log backups", func(c *Config) { c.LogMaxBackups = 0 }, func(c *Config) int { return c.LogMaxBackups }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.set(cfg)
			result := cfg.ValidateTiered()
			if result.HasFatals() {
				t.Fatalf("clamped value should be warning, not fatal: %v", result.Fatals)
			}
			if len(result.Warnings) != 1 {
				t.Fatalf("warnings = %v, want exactly one", result.Warnings)
			}
			if got := tt.check(cfg); got != tt.want {
				t.Fatalf("clamped value = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.LoopbackMode = "sideways" // fatal
	cfg.LogFormat = "xml"         // warning
	result := cfg.ValidateTiered()

	if all := result.AllErrors(); len(all) != 2 {
		t.Fatalf("AllErrors() returned %d errors, want 2", len(all))
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audiocapture.yaml")
	data := "activation_timeout_ms: 2500\nloopback_mode: exclude\nallow_device_fallback: false\nlog_format: json\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ActivationTimeoutMs != 2500 {
		t.Fatalf("ActivationTimeoutMs = %d, want 2500", cfg.ActivationTimeoutMs)
	}
	if cfg.LoopbackMode != "exclude" {
		t.Fatalf("LoopbackMode = %q, want exclude", cfg.LoopbackMode)
	}
	if cfg.AllowDeviceFallback {
		t.Fatal("AllowDeviceFallback should be false")
	}
	if cfg.PollIntervalMs != 5 {
		t.Fatalf("PollIntervalMs = %d, want default 5", cfg.PollIntervalMs)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("LogFormat = %q, want json", cfg.LogFormat)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AUDIOCAPTURE_STOP_TIMEOUT_MS", "2000")
	t.Setenv("AUDIOCAPTURE_REQUIRE_AUDIO_SESSION", "false")
	path := filepath.Join(t.TempDir(), "audiocapture.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StopTimeoutMs != 2000 {
		t.Fatalf("StopTimeoutMs = %d, want 2000 from env", cfg.StopTimeoutMs)
	}
	if cfg.RequireAudioSession {
		t.Fatal("RequireAudioSession should be false from env")
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}
