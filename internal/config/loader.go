package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/stravasync/pkg/validation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STRAVASYNC_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if STRAVASYNC_CONFIG is set
//  3. env (prefix STRAVASYNC_)
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// STRAVASYNC_QUEUE_SIZE -> queue_size; keys stay flat to match koanf tags.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		if s == "CONFIG" {
			return ""
		}
		return strings.ToLower(s)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field rules and cross-field constraints.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, verr)
	}
	if c.SenderEmail != "" {
		if err := validation.GetValidator().Var(c.SenderEmail, "email"); err != nil {
			return fmt.Errorf("%w: sender_email must be a valid email address", ErrInvalidConfig)
		}
	}
	seen := make(map[int64]struct{}, len(c.Principals))
	for _, p := range c.Principals {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: principal %d configured twice", ErrDuplicatePrincipal, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	if len(c.Principals) > 0 && (c.ClientID == "" || c.ClientSecret == "") {
		return ErrMissingOAuthClient
	}
	return nil
}
