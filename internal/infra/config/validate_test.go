package config

import (
	"errors"
	"strings"
	"testing"
)

func assertContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("error %q does not contain %q", got, want)
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateAPI(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty base url", func(c *Config) { c.API.BaseURL = "" }, "api.base_url must not be empty"},
		{"relative base url", func(c *Config) { c.API.BaseURL = "/api" }, "must be an absolute http(s) URL"},
		{"bad scheme", func(c *Config) { c.API.BaseURL = "ws://host/api" }, "must be an absolute http(s) URL"},
		{"empty channel", func(c *Config) { c.API.Channel = "  " }, "api.channel must not be empty"},
		{"encrypted token left", func(c *Config) { c.API.Token = "enc:abc:def" }, "api.token is encrypted"},
		{"negative conn timeout", func(c *Config) { c.API.ConnTimeout = -1 }, "api.conn_timeout must be >= 0"},
		{"negative resp timeout", func(c *Config) { c.API.RespTimeout = -1 }, "api.resp_timeout must be >= 0"},
		{"negative request timeout", func(c *Config) { c.API.RequestTimeout = -1 }, "api.request_timeout must be >= 0"},
		{"negative rate", func(c *Config) { c.API.RequestsPerSecond = -1 }, "api.requests_per_second must be >= 0"},
		{"rate without burst", func(c *Config) { c.API.Burst = 0 }, "api.burst must be > 0"},
		{"negative breaker", func(c *Config) { c.API.Breaker.Timeout = -1 }, "api.breaker durations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateUnlimitedRateNeedsNoBurst(t *testing.T) {
	cfg := Defaults()
	cfg.API.RequestsPerSecond = 0
	cfg.API.Burst = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSessionLabel(t *testing.T) {
	cfg := Defaults()
	cfg.Session.AssistantLabel = ""
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "session.assistant_label must not be empty")
}

func TestValidateLoggerAndTracer(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Level = "verbose"
	cfg.Logger.Format = "xml"
	cfg.Tracer.Exporter = "zipkin"

	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
	assertContains(t, err.Error(), "logger.level")
	assertContains(t, err.Error(), "logger.format")
	assertContains(t, err.Error(), "tracer.exporter")
}

func TestValidationErrorFormat(t *testing.T) {
	ve := &ValidationError{}
	if ve.HasErrors() {
		t.Fatal("empty ValidationError should have no errors")
	}
	ve.Add("a %d", 1)
	ve.Add("b")
	want := "config validation failed:\n  - a 1\n  - b"
	if ve.Error() != want {
		t.Errorf("got %q, want %q", ve.Error(), want)
	}
}
