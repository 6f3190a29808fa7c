package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/PabloGalante/insurance-agent/internal/adapters/claimsapi"
	"github.com/PabloGalante/insurance-agent/internal/adapters/llm"
	"github.com/PabloGalante/insurance-agent/internal/adapters/retrieval"
	firestorestore "github.com/PabloGalante/insurance-agent/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/insurance-agent/internal/adapters/storage/memory"
	sqlitestore "github.com/PabloGalante/insurance-agent/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/insurance-agent/internal/app/agentflow"
	"github.com/PabloGalante/insurance-agent/internal/app/conversation"
	"github.com/PabloGalante/insurance-agent/internal/app/tools"
	"github.com/PabloGalante/insurance-agent/internal/config"
	"github.com/PabloGalante/insurance-agent/internal/domain"
	"github.com/PabloGalante/insurance-agent/internal/observability"
)

// app owns the wired service and whatever must be closed on exit.
type app struct {
	svc     *conversation.Service
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	log := observability.Logger()

	gen, err := newGenerator(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	log.Info("text generator ready", "provider", cfg.LLM.Provider)

	store, err := newSessionStore(ctx, cfg.Storage, a)
	if err != nil {
		return nil, err
	}
	log.Info("session store ready", "backend", cfg.Storage.Backend)

	retriever, err := newRetriever(ctx, cfg.Retrieval, a)
	if err != nil {
		return nil, err
	}
	log.Info("retriever ready", "backend", cfg.Retrieval.Backend)

	timeouts := agentflow.Timeouts{
		Classifier: cfg.Timeouts.Classifier,
		Generation: cfg.Timeouts.Generation,
		Retrieval:  cfg.Timeouts.Retrieval,
		Claims:     cfg.Timeouts.Claims,
	}

	router, err := agentflow.NewRouter(cfg.Router.Mode, gen, timeouts.Classifier)
	if err != nil {
		return nil, err
	}

	claims := claimsapi.NewClient(cfg.Claims.BaseURL, nil)
	registry := tools.NewRegistry(tools.NewClaimStatusTool(claims), tools.NewSubmitClaimTool(claims))

	orch, err := agentflow.NewOrchestrator(router, gen, timeouts,
		agentflow.NewKnowledgeAgent(retriever, cfg.Retrieval.TopK, timeouts.Retrieval),
		agentflow.NewClaimsAgent(registry, timeouts.Claims),
		agentflow.NewFallbackAgent(gen, timeouts.Generation),
	)
	if err != nil {
		return nil, err
	}

	a.svc = conversation.NewService(store, orch, cfg.Timeouts.Store)
	return a, nil
}

func newGenerator(ctx context.Context, c config.LLMConfig) (domain.TextGenerator, error) {
	switch c.Provider {
	case "mock":
		return llm.NewMockLLM(), nil
	case "vertex":
		return llm.NewVertexClient(ctx, llm.VertexConfig{
			Project:     c.GCPProject,
			Location:    c.GCPLocation,
			Model:       c.Model,
			Temperature: c.Temperature,
			MaxTokens:   c.MaxTokens,
		})
	case "anthropic":
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:      c.APIKey,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: c.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", c.Provider)
	}
}

func newSessionStore(ctx context.Context, c config.StorageConfig, a *app) (domain.SessionStore, error) {
	switch c.Backend {
	case "memory":
		return memstore.NewSessionStore(), nil
	case "sqlite":
		s, err := sqlitestore.Open(ctx, c.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite session store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "firestore":
		s, err := firestorestore.NewStore(ctx, c.GCPProject)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.Backend)
	}
}

func newRetriever(ctx context.Context, c config.RetrievalConfig, a *app) (domain.Retriever, error) {
	switch c.Backend {
	case "static":
		return retrieval.NewStaticRetriever(retrieval.DefaultPassages()), nil
	case "sqlite":
		r, err := retrieval.OpenSQLite(ctx, c.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite retriever: %w", err)
		}
		a.closers = append(a.closers, r.Close)
		if n, err := r.SeedIfEmpty(ctx, retrieval.DefaultPassages()); err != nil {
			return nil, err
		} else if n > 0 {
			observability.Logger().Info("seeded knowledge index", "passages", n)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown retrieval backend %q", c.Backend)
	}
}
