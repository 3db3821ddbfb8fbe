package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/namegnome/serve/internal/apiclient"
	"github.com/namegnome/serve/internal/config"
	"github.com/namegnome/serve/internal/logging"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string
	logLevel   *string
	verbose    *bool
	jsonOutput *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag, logLevel *string, verbose, jsonOutput *bool) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
		logLevel:   logLevel,
		verbose:    verbose,
		jsonOutput: jsonOutput,
	}
}

// JSONMode returns true when the user passed --json.
func (c *commandContext) JSONMode() bool {
	return c != nil && c.jsonOutput != nil && *c.jsonOutput
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) resolvedLogLevel(cfg *config.Config) string {
	if c != nil && c.logLevel != nil {
		if trimmed := strings.TrimSpace(*c.logLevel); trimmed != "" {
			return trimmed
		}
	}
	if c != nil && c.verbose != nil && *c.verbose {
		return "debug"
	}
	if cfg != nil {
		if trimmed := strings.TrimSpace(cfg.Logging.Level); trimmed != "" {
			return trimmed
		}
	}
	return "info"
}

// newCLILogger creates a console-format logger for CLI commands; it never
// writes JSON or a StreamHub fan-out, since those only matter inside the
// daemon process.
func (c *commandContext) newCLILogger(cfg *config.Config, component string) (*slog.Logger, error) {
	level := c.resolvedLogLevel(cfg)
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      "console",
		Development: strings.EqualFold(level, "debug"),
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if component != "" {
		logger = logger.With(logging.String("component", component))
	}
	return logger, nil
}

// apiBaseURL resolves the REST base URL: the --api flag wins, otherwise the
// loaded config's api.bind is used, prefixed with http:// when it names a
// bare host:port the way config.Default's api.bind does.
func (c *commandContext) apiBaseURL() (string, error) {
	if c.apiFlag != nil {
		if trimmed := strings.TrimSpace(*c.apiFlag); trimmed != "" {
			return normalizeBaseURL(trimmed), nil
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return normalizeBaseURL(cfg.API.Bind), nil
}

func normalizeBaseURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "http://" + raw
}

func (c *commandContext) apiClient() (*apiclient.Client, error) {
	base, err := c.apiBaseURL()
	if err != nil {
		return nil, err
	}
	return apiclient.New(base), nil
}

// colorEnabled reports whether stdout is a terminal, gating ANSI color
// output the same way the teacher's status_render.shouldColorize does.
func colorEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
