package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config encapsulates every runtime setting the daemon and CLI need.
//
// Fields are grouped by concern so that each group can be normalized and
// validated independently; see normalize.go and validate.go.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Providers     Providers     `toml:"providers"`
	Anthology     Anthology     `toml:"anthology"`
	Apply         Apply         `toml:"apply"`
	RateLimit     RateLimit     `toml:"rate_limit"`
	Logging       Logging       `toml:"logging"`
	API           API           `toml:"api"`
}

// Paths holds every filesystem location the service reads from or writes to.
type Paths struct {
	CacheDBPath string `toml:"cache_db_path"`
	LogDir      string `toml:"log_dir"`
	LockDir     string `toml:"lock_dir"`
}

// Providers holds credentials and endpoints for every metadata provider C2 can
// address. Each API key falls back to an environment variable of the same
// name in upper case (e.g. TVDB_API_KEY) when left blank in the file.
type Providers struct {
	TVDBAPIKey        string `toml:"tvdb_api_key"`
	TVDBBaseURL        string `toml:"tvdb_base_url"`
	TMDBAPIKey         string `toml:"tmdb_api_key"`
	TMDBBaseURL        string `toml:"tmdb_base_url"`
	TMDBLanguage       string `toml:"tmdb_language"`
	OMDBAPIKey         string `toml:"omdb_api_key"`
	OMDBBaseURL        string `toml:"omdb_base_url"`
	FanartTVAPIKey     string `toml:"fanarttv_api_key"`
	FanartTVBaseURL    string `toml:"fanarttv_base_url"`
	MusicBrainzBaseURL string `toml:"musicbrainz_base_url"`
	MusicBrainzContact string `toml:"musicbrainz_contact"`
	TVMazeBaseURL      string `toml:"tvmaze_base_url"`
	RequestTimeout     int    `toml:"request_timeout"`
	MaxAttempts        int    `toml:"max_attempts"`
	Offline            bool   `toml:"offline"`
}

// Anthology configures the anthology resolver and its optional LLM assist.
type Anthology struct {
	Enabled                bool    `toml:"enabled"`
	TitleMatchThreshold    float64 `toml:"title_match_threshold"`
	SingletonThreshold     float64 `toml:"singleton_threshold"`
	LLMAssistEnabled       bool    `toml:"llm_assist_enabled"`
	LLMBaseURL             string  `toml:"llm_base_url"`
	LLMModel               string  `toml:"llm_model"`
	LLMAPIKey              string  `toml:"llm_api_key"`
	LLMTimeoutSeconds      int     `toml:"llm_timeout_seconds"`
}

// Apply configures the apply executor's locking and collision behaviour.
type Apply struct {
	Mode              string `toml:"mode"`
	CollisionStrategy string `toml:"collision_strategy"`
	LockTimeoutSeconds int   `toml:"lock_timeout_seconds"`
}

// RateLimit configures the token-bucket limiter shared by every provider
// client (see internal/provider).
type RateLimit struct {
	RefillPerSecond float64 `toml:"refill_per_second"`
	Burst           int     `toml:"burst"`
}

// Logging configures the console/JSON dual-handler logger (internal/logging).
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	Debug         bool   `toml:"debug"`
	RetentionDays int    `toml:"retention_days"`
}

// API configures the HTTP listener exposed by cmd/namegnomed.
type API struct {
	Bind string `toml:"bind"`
}

const (
	defaultCacheDBPath  = "~/.local/share/namegnome/cache.db"
	defaultLogDir       = "~/.local/share/namegnome/logs"
	defaultLockDir      = "~/.local/share/namegnome/locks"
	defaultTVDBBaseURL        = "https://api4.thetvdb.com/v4"
	defaultTMDBBaseURL        = "https://api.themoviedb.org/3"
	defaultTMDBLanguage       = "en-US"
	defaultOMDBBaseURL        = "https://www.omdbapi.com"
	defaultFanartTVBaseURL    = "https://webservice.fanart.tv/v3"
	defaultMusicBrainzBaseURL = "https://musicbrainz.org/ws/2"
	defaultTVMazeBaseURL      = "https://api.tvmaze.com"
	defaultRequestTimeout     = 10
	defaultMaxAttempts        = 4
	defaultTitleMatchThreshold = 0.67
	defaultSingletonThreshold  = 0.8
	defaultLLMTimeoutSeconds   = 30
	defaultApplyMode           = "transactional"
	defaultCollisionStrategy   = "skip"
	defaultLockTimeoutSeconds  = 5
	defaultRefillPerSecond     = 2.0
	defaultBurst               = 4
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	defaultAPIBind             = "127.0.0.1:8787"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDBPath: defaultCacheDBPath,
			LogDir:      defaultLogDir,
			LockDir:     defaultLockDir,
		},
		Providers: Providers{
			TVDBBaseURL:        defaultTVDBBaseURL,
			TMDBBaseURL:        defaultTMDBBaseURL,
			TMDBLanguage:       defaultTMDBLanguage,
			OMDBBaseURL:        defaultOMDBBaseURL,
			FanartTVBaseURL:    defaultFanartTVBaseURL,
			MusicBrainzBaseURL: defaultMusicBrainzBaseURL,
			MusicBrainzContact: "namegnome-serve",
			TVMazeBaseURL:      defaultTVMazeBaseURL,
			RequestTimeout:     defaultRequestTimeout,
			MaxAttempts:        defaultMaxAttempts,
		},
		Anthology: Anthology{
			Enabled:             true,
			TitleMatchThreshold: defaultTitleMatchThreshold,
			SingletonThreshold:  defaultSingletonThreshold,
			LLMTimeoutSeconds:   defaultLLMTimeoutSeconds,
		},
		Apply: Apply{
			Mode:               defaultApplyMode,
			CollisionStrategy:  defaultCollisionStrategy,
			LockTimeoutSeconds: defaultLockTimeoutSeconds,
		},
		RateLimit: RateLimit{
			RefillPerSecond: defaultRefillPerSecond,
			Burst:           defaultBurst,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		API: API{
			Bind: defaultAPIBind,
		},
	}
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/namegnome/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and every provider/env fallback
// applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// EnsureDirectories creates every directory this config references.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir, c.Paths.LockDir, filepath.Dir(c.Paths.CacheDBPath)}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure directory %s: %w", dir, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/namegnome/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("namegnome.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// CreateSample writes an annotated sample configuration file to path,
// ready for the user to edit.
func CreateSample(path string) error {
	sample := `# NameGnome Serve Configuration
# =============================
# Edit the REQUIRED settings below, then customize optional settings as needed.

# ============================================================================
# REQUIRED SETTINGS
# ============================================================================

[providers]
tmdb_api_key = "your_tmdb_api_key_here"   # Get from themoviedb.org/settings/api
tvdb_api_key = ""                          # Get from thetvdb.com/api-information
omdb_api_key = ""                          # Get from omdbapi.com/apikey.aspx
fanarttv_api_key = ""
request_timeout = 10
max_attempts = 4
offline = false

# ============================================================================
# PATHS
# ============================================================================

[paths]
cache_db_path = "~/.local/share/namegnome/cache.db"
log_dir = "~/.local/share/namegnome/logs"
lock_dir = "~/.local/share/namegnome/locks"

# ============================================================================
# ANTHOLOGY RESOLVER
# ============================================================================

[anthology]
enabled = true
title_match_threshold = 0.67
singleton_threshold = 0.8
llm_assist_enabled = false
llm_base_url = ""
llm_model = ""

# ============================================================================
# APPLY
# ============================================================================

[apply]
mode = "transactional"
collision_strategy = "skip"
lock_timeout_seconds = 5

# ============================================================================
# RATE LIMITING
# ============================================================================

[rate_limit]
refill_per_second = 2.0
burst = 4

# ============================================================================
# LOGGING
# ============================================================================

[logging]
format = "console"
level = "info"
debug = false
retention_days = 30

# ============================================================================
# HTTP API
# ============================================================================

[api]
bind = "127.0.0.1:8787"
`
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
