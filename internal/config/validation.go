package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
)

// Validate checks configuration values usable in any mode.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return ErrEmptyModelList
	}
	if err := c.ValidateModel(c.Model); err != nil {
		return fmt.Errorf("default model: %w", err)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (want 0..2)", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxOutputTokens <= 0 || c.MaxOutputTokens > MaxAllowedOutputToken {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidMaxTokens, c.MaxOutputTokens, MaxAllowedOutputToken)
	}

	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.EphemeralTTL <= 0 || c.SweepInterval <= 0 {
		return ErrInvalidSweep
	}

	if c.ToolEndpoint != "" {
		u, err := url.Parse(c.ToolEndpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: %q", ErrInvalidToolEndpoint, c.ToolEndpoint)
		}
	}

	return nil
}

// ValidateServe checks requirements specific to serve mode: the auth
// secret and the upstream API key must be present.
func (c *Config) ValidateServe() error {
	if c.AuthSecret == "" {
		return ErrMissingAuthSecret
	}
	if len(c.AuthSecret) < 32 {
		return ErrWeakAuthSecret
	}
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY not set", ErrMissingAPIKey)
	}
	return nil
}

// ValidateModel checks a model name against the allow-list.
func (c *Config) ValidateModel(name string) error {
	if !slices.Contains(c.Models, name) {
		return fmt.Errorf("%w: %q (allowed: %v)", ErrInvalidModel, name, c.Models)
	}
	return nil
}
