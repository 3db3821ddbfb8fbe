package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/namegnome/serve/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeyAndExpandsPaths(t *testing.T) {
	t.Setenv("TMDB_API_KEY", "test-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantCache := filepath.Join(tempHome, ".local", "share", "namegnome", "cache.db")
	if cfg.Paths.CacheDBPath != wantCache {
		t.Fatalf("unexpected cache db path: got %q want %q", cfg.Paths.CacheDBPath, wantCache)
	}
	if cfg.API.Bind != "127.0.0.1:8787" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.Providers.TMDBAPIKey != "test-key" {
		t.Fatalf("expected TMDB key from env, got %q", cfg.Providers.TMDBAPIKey)
	}
	if cfg.Providers.TMDBBaseURL != config.Default().Providers.TMDBBaseURL {
		t.Fatalf("unexpected TMDB base url: %q", cfg.Providers.TMDBBaseURL)
	}
	if cfg.Anthology.TitleMatchThreshold != 0.67 {
		t.Fatalf("unexpected title match threshold: %v", cfg.Anthology.TitleMatchThreshold)
	}
	if cfg.Anthology.SingletonThreshold != 0.8 {
		t.Fatalf("unexpected singleton threshold: %v", cfg.Anthology.SingletonThreshold)
	}
	if cfg.Apply.Mode != "transactional" {
		t.Fatalf("unexpected apply mode: %q", cfg.Apply.Mode)
	}
	if cfg.Apply.CollisionStrategy != "skip" {
		t.Fatalf("unexpected collision strategy: %q", cfg.Apply.CollisionStrategy)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.Paths.LogDir, cfg.Paths.LockDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("TMDB_API_KEY", "from-env")
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "namegnome.toml")

	type payload struct {
		Providers struct {
			TMDBAPIKey  string `toml:"tmdb_api_key"`
			TMDBBaseURL string `toml:"tmdb_base_url"`
		} `toml:"providers"`
		Apply struct {
			CollisionStrategy string `toml:"collision_strategy"`
		} `toml:"apply"`
	}
	custom := payload{}
	custom.Providers.TMDBAPIKey = "abc123"
	custom.Providers.TMDBBaseURL = "https://example.com/tmdb"
	custom.Apply.CollisionStrategy = "overwrite"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Providers.TMDBAPIKey != "abc123" {
		t.Fatalf("expected TMDB key from file, got %q", cfg.Providers.TMDBAPIKey)
	}
	if cfg.Providers.TMDBBaseURL != "https://example.com/tmdb" {
		t.Fatalf("expected TMDB base url override, got %q", cfg.Providers.TMDBBaseURL)
	}
	if cfg.Apply.CollisionStrategy != "overwrite" {
		t.Fatalf("expected collision strategy override, got %q", cfg.Apply.CollisionStrategy)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_tmdb_api_key_here") {
		t.Fatalf("sample config missing placeholder TMDB key: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.CacheDBPath, "namegnome") {
		t.Fatalf("expected cache db path to contain namegnome, got %q", cfg.Paths.CacheDBPath)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.TMDBAPIKey = "key"
	cfg.Providers.RequestTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive request timeout")
	}

	cfg = config.Default()
	cfg.Providers.TMDBAPIKey = "key"
	cfg.Anthology.TitleMatchThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for title match threshold")
	}

	cfg = config.Default()
	cfg.Providers.TMDBAPIKey = "key"
	cfg.Apply.Mode = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid apply mode")
	}

	cfg = config.Default()
	cfg.Providers.TMDBAPIKey = "key"
	cfg.Apply.CollisionStrategy = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid collision strategy")
	}

	cfg = config.Default()
	cfg.Providers.Offline = true
	cfg.Providers.TMDBAPIKey = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected offline mode to skip api key requirement, got %v", err)
	}

	cfg = config.Default()
	cfg.Providers.TMDBAPIKey = "key"
	cfg.RateLimit.RefillPerSecond = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive refill rate")
	}
}
