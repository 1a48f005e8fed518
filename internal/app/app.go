// Package app assembles the negotiation stack from configuration. It is
// shared by the HTTP server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/calgenie/internal/chat"
	"github.com/ashureev/calgenie/internal/config"
	"github.com/ashureev/calgenie/internal/details"
	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/intent"
	"github.com/ashureev/calgenie/internal/metrics"
	"github.com/ashureev/calgenie/internal/negotiation"
	"github.com/ashureev/calgenie/internal/nlp"
	"github.com/ashureev/calgenie/internal/session"
	"github.com/ashureev/calgenie/internal/store"
	"github.com/ashureev/calgenie/internal/transcript"
)

// App holds the wired components.
type App struct {
	Store      store.EventStore
	Sessions   *session.Manager
	Engine     *negotiation.Engine
	Chat       *chat.Service
	Metrics    *metrics.Recorder
	Transcript transcript.Logger

	closers []func() error
}

// New wires every component described by cfg. m may be nil.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Recorder) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Metrics: m}

	var db *store.SQLiteStore
	if cfg.StoreDriver == config.StoreSQLite || cfg.SessionBackend == config.SessionSQLite {
		var err error
		db, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Ping(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("database health check: %w", err)
		}
		logger.Info("Database connected", "path", cfg.DBPath)
	}

	switch cfg.StoreDriver {
	case config.StoreSQLite:
		a.Store = db
	case config.StoreMemory:
		a.Store = store.NewMemoryStore()
	default:
		a.Store = store.NewJSONFileStore(cfg.MeetingsPath)
	}
	logger.Info("Event store ready", "driver", cfg.StoreDriver)

	var sessions store.SessionRepository = store.NewMemorySessions()
	if cfg.SessionBackend == config.SessionSQLite {
		sessions = db
	}

	client, closeClient, err := NewCollaborator(cfg.NLP, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if closeClient != nil {
		a.closers = append(a.closers, closeClient)
	}

	a.Transcript, err = transcript.New(transcript.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("initialize conversation logger: %w", err)
	}
	// Flush the transcript before the database closes.
	a.closers = append([]func() error{a.Transcript.Close}, a.closers...)

	a.Engine = negotiation.NewEngine(negotiation.Config{
		Store:     a.Store,
		Gate:      intent.NewGate(client, cfg.NLP.Timeout, m),
		Completer: details.NewCompleter(client, cfg.NLP.Timeout, m),
		Metrics:   m,
		Location:  cfg.Location(),
	})
	a.Sessions = session.NewManager(sessions, cfg.SessionTTL, domain.Participant{
		Name:  cfg.DefaultRequesterName,
		Email: cfg.DefaultRequesterEmail,
	}, m)
	a.Chat = chat.NewService(a.Engine, a.Sessions, a.Transcript)
	return a, nil
}

// NewCollaborator returns the language collaborator selected by cfg and an
// optional close function.
func NewCollaborator(cfg config.NLPConfig, logger *slog.Logger) (nlp.Client, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case config.NLPOpenAI:
		prompts, err := nlp.LoadPrompts(cfg.PromptsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load prompts: %w", err)
		}
		c, err := nlp.NewOpenAIClient(nlp.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Prompts: prompts,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Language collaborator ready", "provider", cfg.Provider)
		return c, nil, nil
	case config.NLPGRPC:
		c, err := nlp.NewGRPCClient(nlp.DefaultGRPCConfig(cfg.GRPCAddr), logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() error { c.Close(); return nil }, nil
	default:
		logger.Warn("No language collaborator configured; scheduling requests will not be understood")
		return nlp.Unavailable{}, nil, nil
	}
}

// Close releases every resource in order.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
