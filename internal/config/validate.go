package config

import (
	"fmt"
	"log/slog"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validLoopbackModes = map[string]bool{
	"include":      true,
	"include-tree": true,
	"exclude":      true,
	"exclude-tree": true,
}

// ValidationResult separates errors that must stop startup from values that
// were corrected or can be ignored.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// ValidateTiered checks the config. Out-of-range timings are clamped to a
// safe range and reported as warnings; an unknown loopback mode is fatal
// because it would change what audio is captured.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if !validLoopbackModes[strings.ToLower(c.LoopbackMode)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("loopback_mode %q is not valid (use include or exclude)", c.LoopbackMode))
	}

	c.ActivationTimeoutMs = clamp(&r, "activation_timeout_ms", c.ActivationTimeoutMs, 100, 60000)
	c.PollIntervalMs = clamp(&r, "poll_interval_ms", c.PollIntervalMs, 1, 100)
	c.StopTimeoutMs = clamp(&r, "stop_timeout_ms", c.StopTimeoutMs, 100, 30000)
	c.LogMaxSizeMB = clamp(&r, "log_max_size_mb", c.LogMaxSizeMB, 1, 1024)
	c.LogMaxBackups = clamp(&r, "log_max_backups", c.LogMaxBackups, 1, 20)

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}
	return r
}

func clamp(r *ValidationResult, key string, v, lo, hi int) int {
	switch {
	case v < lo:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
		return lo
	case v > hi:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
		return hi
	}
	return v
}
