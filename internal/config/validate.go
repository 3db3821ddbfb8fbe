package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateAnthology(); err != nil {
		return err
	}
	if err := c.validateApply(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProviders() error {
	p := c.Providers
	if !p.Offline && p.TMDBAPIKey == "" && p.TVDBAPIKey == "" && p.OMDBAPIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/namegnome/config.toml"
		}
		return fmt.Errorf("at least one provider api key is required (tvdb/tmdb/omdb). Set an env var or edit %s, or set providers.offline = true", defaultPath)
	}
	if p.RequestTimeout <= 0 {
		return errors.New("providers.request_timeout must be positive")
	}
	if p.MaxAttempts <= 0 {
		return errors.New("providers.max_attempts must be positive")
	}
	return nil
}

func (c *Config) validateAnthology() error {
	a := c.Anthology
	if a.TitleMatchThreshold <= 0 || a.TitleMatchThreshold > 1 {
		return errors.New("anthology.title_match_threshold must be between 0 and 1")
	}
	if a.SingletonThreshold <= 0 || a.SingletonThreshold > 1 {
		return errors.New("anthology.singleton_threshold must be between 0 and 1")
	}
	if a.LLMAssistEnabled && strings.TrimSpace(a.LLMBaseURL) == "" {
		return errors.New("anthology.llm_base_url must be set when anthology.llm_assist_enabled is true")
	}
	return nil
}

func (c *Config) validateApply() error {
	switch c.Apply.Mode {
	case "transactional", "continue-on-error":
	default:
		return fmt.Errorf("apply.mode must be 'transactional' or 'continue-on-error', got %q", c.Apply.Mode)
	}
	switch c.Apply.CollisionStrategy {
	case "skip", "overwrite", "backup":
	default:
		return fmt.Errorf("apply.collision_strategy must be 'skip', 'overwrite', or 'backup', got %q", c.Apply.CollisionStrategy)
	}
	if c.Apply.LockTimeoutSeconds <= 0 {
		return errors.New("apply.lock_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.RefillPerSecond <= 0 {
		return errors.New("rate_limit.refill_per_second must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		return errors.New("rate_limit.burst must be positive")
	}
	return nil
}
