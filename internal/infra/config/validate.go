package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAPI(cfg, ve)
	validateSession(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAPI(cfg *Config, ve *ValidationError) {
	api := cfg.API
	if api.BaseURL == "" {
		ve.Add("api.base_url must not be empty")
	} else if u, err := url.Parse(api.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("api.base_url %q must be an absolute http(s) URL", api.BaseURL)
	}
	if strings.TrimSpace(api.Channel) == "" {
		ve.Add("api.channel must not be empty")
	}
	if strings.HasPrefix(api.Token, encPrefix) {
		ve.Add("api.token is encrypted but %s is not set", KeyEnv)
	}
	if api.ConnTimeout < 0 {
		ve.Add("api.conn_timeout must be >= 0")
	}
	if api.RespTimeout < 0 {
		ve.Add("api.resp_timeout must be >= 0")
	}
	if api.RequestTimeout < 0 {
		ve.Add("api.request_timeout must be >= 0")
	}
	if api.RequestsPerSecond < 0 {
		ve.Add("api.requests_per_second must be >= 0")
	}
	if api.RequestsPerSecond > 0 && api.Burst <= 0 {
		ve.Add("api.burst must be > 0 when api.requests_per_second is set")
	}
	if api.Breaker.Timeout < 0 || api.Breaker.Interval < 0 {
		ve.Add("api.breaker durations must be >= 0")
	}
}

func validateSession(cfg *Config, ve *ValidationError) {
	if strings.TrimSpace(cfg.Session.AssistantLabel) == "" {
		ve.Add("session.assistant_label must not be empty")
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q must be one of debug, info, warn, error", cfg.Logger.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

var validExporters = map[string]bool{
	"":       true,
	"noop":   true,
	"stdout": true,
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q must be noop or stdout", cfg.Tracer.Exporter)
	}
}
