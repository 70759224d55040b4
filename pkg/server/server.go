// Package server assembles the broker app server from configuration.
//
// It lives in pkg/ so other binaries can embed the same handler:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(srv.Addr, srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/credbroker/broker/internal/api"
	"github.com/credbroker/broker/internal/api/handlers"
	"github.com/credbroker/broker/internal/api/middleware"
	"github.com/credbroker/broker/internal/auth"
	"github.com/credbroker/broker/internal/config"
	"github.com/credbroker/broker/internal/gcal"
	"github.com/credbroker/broker/internal/gemini"
	"github.com/credbroker/broker/internal/orchestrator"
	"github.com/credbroker/broker/internal/store"
	"github.com/credbroker/broker/internal/telemetry"
	"github.com/credbroker/broker/internal/tokens"
	"github.com/credbroker/broker/internal/toolclient"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Server holds the initialized app server.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store selected by configuration.
	Store store.Store

	// Config is the loaded configuration.
	Config *config.Config

	// Addr is the host:port the server should listen on.
	Addr string

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New loads configuration from the environment and builds the server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig builds the server from an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		shutdown(ctx)
		return nil, err
	}

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTTTL)
	chain := auth.NewProviderChain(auth.NewBearerProvider(issuer))
	log.Info().Strs("providers", chain.ListProviders()).Msg("✅ Auth chain initialized")

	calendar := gcal.NewClient(cfg.Google.CalendarBaseURL, nil)
	resolver := tokens.NewResolver(dataStore, gcal.NewOAuthClient(cfg.Google.TokenURL, nil),
		cfg.Google.ClientID, cfg.Google.ClientSecret)
	log.Info().Str("base_url", cfg.Google.CalendarBaseURL).Msg("✅ Google Calendar client initialized")

	model := gemini.New(gemini.Config{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Gemini.Timeout,
	})
	log.Info().Str("model", cfg.Gemini.Model).Bool("api_key", cfg.Gemini.APIKey != "").Msg("✅ Gemini client initialized")

	chat := orchestrator.New(dataStore,
		orchestrator.NewGeminiResolver(model, dataStore),
		toolclient.New(cfg.Chat.MCPServerURL, nil),
		issuer,
		orchestrator.Options{
			ToolTimeout:     cfg.Chat.ToolTimeout,
			SummaryLanguage: cfg.Chat.SummaryLanguage,
		})
	log.Info().Str("tool_server", cfg.Chat.MCPServerURL).Msg("✅ Chat orchestrator initialized")

	clients := auth.ClientCredentials{
		ClientID:     cfg.Auth.ServiceClientID,
		ClientSecret: cfg.Auth.ServiceClientSecret,
	}
	h := handlers.New(dataStore, issuer, clients, resolver, calendar, model, chat)
	router := api.NewRouter(cfg, h, middleware.NewAuth(chain, "broker"))

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Config:       cfg,
		Addr:         cfg.Addr(),
		ShutdownFunc: shutdown,
	}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		s := store.NewMemoryStore(afero.NewOsFs(), cfg.DataDir)
		log.Info().Str("data_dir", cfg.DataDir).Msg("✅ In-memory store initialized")
		return s, nil
	default:
		s, err := store.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		log.Info().Msg("✅ SQLite store initialized")
		return s, nil
	}
}
