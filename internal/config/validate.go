package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their config key rather than the Go name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates problems that must stop startup from values
// that were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// ValidateTiered checks the config. Missing or malformed required values
// are fatal. Out-of-range numbers are clamped to safe bounds and reported
// as warnings. Warnings are logged.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				result.Fatals = append(result.Fatals, fmt.Errorf("%s failed %q validation (value %v)", fieldKey(fe), fe.Tag(), fe.Value()))
			}
		} else {
			result.Fatals = append(result.Fatals, err)
		}
	}

	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			result.Fatals = append(result.Fatals, fmt.Errorf("allowed_origins entry %q is not an origin URL", origin))
		}
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), using info", c.LogLevel))
		c.LogLevel = "info"
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), using text", c.LogFormat))
		c.LogFormat = "text"
	}

	clamp := func(key string, v *int, lo, hi int) {
		if *v < lo {
			result.Warnings = append(result.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, *v, lo))
			*v = lo
		} else if *v > hi {
			result.Warnings = append(result.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, *v, hi))
			*v = hi
		}
	}
	clamp("max_connections", &c.MaxConnections, 0, 1024)
	clamp("pipeline_workers", &c.PipelineWorkers, 1, 64)
	clamp("pipeline_queue_size", &c.PipelineQueueSize, 1, 10000)
	clamp("send_queue_size", &c.SendQueueSize, 1, 4096)
	clamp("log_max_size_mb", &c.LogMaxSizeMB, 1, 1024)
	clamp("log_max_backups", &c.LogMaxBackups, 0, 100)
	clamp("attachments.fetch_timeout_seconds", &c.Attachments.FetchTimeoutSeconds, 1, 300)
	clamp("attachments.fetch_retries", &c.Attachments.FetchRetries, 0, 10)
	clamp("attachments.max_dimension", &c.Attachments.MaxDimension, 0, 4096)

	if c.Attachments.MaxBytes < 1<<10 {
		result.Warnings = append(result.Warnings, fmt.Errorf("attachments.max_bytes %d is below minimum 1024, clamping", c.Attachments.MaxBytes))
		c.Attachments.MaxBytes = 1 << 10
	} else if c.Attachments.MaxBytes > 100<<20 {
		result.Warnings = append(result.Warnings, fmt.Errorf("attachments.max_bytes %d exceeds maximum %d, clamping", c.Attachments.MaxBytes, 100<<20))
		c.Attachments.MaxBytes = 100 << 20
	}

	for _, err := range result.Warnings {
		slog.Warn("config validation", "error", err)
	}
	return result
}

// fieldKey trims the root type from a validator namespace, leaving the
// config key (attachments.on_failure).
func fieldKey(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
