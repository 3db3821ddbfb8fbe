package main

import (
	"log/slog"

	"github.com/namegnome/serve/internal/anthology"
	"github.com/namegnome/serve/internal/apply"
	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/config"
	"github.com/namegnome/serve/internal/jobs"
	"github.com/namegnome/serve/internal/llmassist"
	"github.com/namegnome/serve/internal/logging"
	"github.com/namegnome/serve/internal/mapper"
	"github.com/namegnome/serve/internal/provider"
)

// buildComponents wires the scan/map/apply pipeline the way the teacher's
// registerStages wires its rip/encode/organize workflow stages: one function,
// called once from main, that owns every cross-component dependency.
func buildComponents(cfg *config.Config, store *cache.Store, hub *logging.StreamHub, logger *slog.Logger) (*mapper.Mapper, *apply.Executor, *jobs.Controller) {
	gateway := provider.NewDefaultGateway(cfg, store)

	resolver := anthology.New(anthologyAssist(cfg))
	mp := mapper.New(store, gateway, resolver)

	applier := apply.New(store, logger)
	jobsCtrl := jobs.New(store, hub, logger)

	return mp, applier, jobsCtrl
}

// anthologyAssist returns an LLM-backed Assist when anthology LLM assist is
// configured, or nil to let the resolver's deterministic pass stand alone.
func anthologyAssist(cfg *config.Config) anthology.Assist {
	if !cfg.Anthology.LLMAssistEnabled || cfg.Anthology.LLMAPIKey == "" {
		return nil
	}
	return llmassist.NewClient(llmassist.Config{
		APIKey:         cfg.Anthology.LLMAPIKey,
		BaseURL:        cfg.Anthology.LLMBaseURL,
		Model:          cfg.Anthology.LLMModel,
		TimeoutSeconds: cfg.Anthology.LLMTimeoutSeconds,
	})
}
