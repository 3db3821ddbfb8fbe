package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeProviders()
	c.normalizeAnthology()
	c.normalizeApply()
	c.normalizeRateLimit()
	c.normalizeLogging()
	c.normalizeAPI()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.CacheDBPath) == "" {
		c.Paths.CacheDBPath = defaultCacheDBPath
	}
	if c.Paths.CacheDBPath, err = expandPath(c.Paths.CacheDBPath); err != nil {
		return fmt.Errorf("paths.cache_db_path: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockDir) == "" {
		c.Paths.LockDir = defaultLockDir
	}
	if c.Paths.LockDir, err = expandPath(c.Paths.LockDir); err != nil {
		return fmt.Errorf("paths.lock_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeProviders() {
	p := &c.Providers
	envFallback(&p.TVDBAPIKey, "TVDB_API_KEY")
	envFallback(&p.TMDBAPIKey, "TMDB_API_KEY")
	envFallback(&p.OMDBAPIKey, "OMDB_API_KEY")
	envFallback(&p.FanartTVAPIKey, "FANARTTV_API_KEY")

	if strings.TrimSpace(p.TVDBBaseURL) == "" {
		p.TVDBBaseURL = defaultTVDBBaseURL
	}
	if strings.TrimSpace(p.TMDBBaseURL) == "" {
		p.TMDBBaseURL = defaultTMDBBaseURL
	}
	if strings.TrimSpace(p.TMDBLanguage) == "" {
		p.TMDBLanguage = defaultTMDBLanguage
	}
	if strings.TrimSpace(p.OMDBBaseURL) == "" {
		p.OMDBBaseURL = defaultOMDBBaseURL
	}
	if strings.TrimSpace(p.FanartTVBaseURL) == "" {
		p.FanartTVBaseURL = defaultFanartTVBaseURL
	}
	if strings.TrimSpace(p.MusicBrainzBaseURL) == "" {
		p.MusicBrainzBaseURL = defaultMusicBrainzBaseURL
	}
	if strings.TrimSpace(p.TVMazeBaseURL) == "" {
		p.TVMazeBaseURL = defaultTVMazeBaseURL
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = defaultRequestTimeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if _, ok := os.LookupEnv("NAMEGNOME_OFFLINE"); ok {
		p.Offline = true
	}
}

func (c *Config) normalizeAnthology() {
	a := &c.Anthology
	if a.TitleMatchThreshold <= 0 {
		a.TitleMatchThreshold = defaultTitleMatchThreshold
	}
	if a.SingletonThreshold <= 0 {
		a.SingletonThreshold = defaultSingletonThreshold
	}
	if a.LLMTimeoutSeconds <= 0 {
		a.LLMTimeoutSeconds = defaultLLMTimeoutSeconds
	}
	envFallback(&a.LLMAPIKey, "NAMEGNOME_LLM_API_KEY")
	if strings.TrimSpace(a.LLMAPIKey) == "" {
		envFallback(&a.LLMAPIKey, "OPENROUTER_API_KEY")
	}
}

func (c *Config) normalizeApply() {
	a := &c.Apply
	a.Mode = strings.ToLower(strings.TrimSpace(a.Mode))
	switch a.Mode {
	case "", "transactional":
		a.Mode = "transactional"
	case "continue-on-error":
	default:
		a.Mode = defaultApplyMode
	}
	a.CollisionStrategy = strings.ToLower(strings.TrimSpace(a.CollisionStrategy))
	switch a.CollisionStrategy {
	case "", "skip":
		a.CollisionStrategy = "skip"
	case "overwrite", "backup":
	default:
		a.CollisionStrategy = defaultCollisionStrategy
	}
	if a.LockTimeoutSeconds <= 0 {
		a.LockTimeoutSeconds = defaultLockTimeoutSeconds
	}
}

func (c *Config) normalizeRateLimit() {
	r := &c.RateLimit
	if r.RefillPerSecond <= 0 {
		r.RefillPerSecond = defaultRefillPerSecond
	}
	if r.Burst <= 0 {
		r.Burst = defaultBurst
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if _, ok := os.LookupEnv("NAMEGNOME_DEBUG"); ok {
		c.Logging.Debug = true
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
}

func envFallback(field *string, envVar string) {
	if strings.TrimSpace(*field) != "" {
		return
	}
	if value, ok := os.LookupEnv(envVar); ok {
		*field = strings.TrimSpace(value)
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
