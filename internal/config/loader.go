package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; using in-memory module store, modules will not survive restarts")
	}

	// Agent
	if cfg.Agent.TokenURL != "" {
		errs = append(errs, validateURL("agent.token_url", cfg.Agent.TokenURL, "http", "https")...)
	}
	if cfg.Agent.WSURL != "" {
		errs = append(errs, validateURL("agent.ws_url", cfg.Agent.WSURL, "ws", "wss")...)
	}
	if cfg.Agent.TokenURL != "" || cfg.Agent.WSURL != "" || cfg.Agent.APIKey != "" {
		if cfg.Agent.TokenURL == "" {
			errs = append(errs, errors.New("agent.token_url is required when agent is configured"))
		}
		if cfg.Agent.WSURL == "" {
			errs = append(errs, errors.New("agent.ws_url is required when agent is configured"))
		}
		if cfg.Agent.APIKey == "" {
			errs = append(errs, errors.New("agent.api_key is required when agent is configured"))
		}
		if cfg.Agent.TemplateID == "" {
			slog.Warn("agent.template_id is empty; sessions will use the agent's default template")
		}
	} else {
		slog.Warn("agent is not configured; voice sessions will be unavailable")
	}

	// Session
	if cfg.Session.LookaheadMillis < 0 {
		errs = append(errs, fmt.Errorf("session.lookahead_millis %d must not be negative", cfg.Session.LookaheadMillis))
	}
	if cfg.Session.DebounceMillis < 0 {
		errs = append(errs, fmt.Errorf("session.debounce_millis %d must not be negative", cfg.Session.DebounceMillis))
	}

	return errors.Join(errs...)
}

// validateURL checks that raw parses and uses one of the given schemes.
func validateURL(field, raw string, schemes ...string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s %q is not a valid URL: %w", field, raw, err)}
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return []error{fmt.Errorf("%s %q must use scheme %v", field, raw, schemes)}
}
