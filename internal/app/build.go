package app

import (
	"context"
	"fmt"
	"log/slog"

	"rejoin/internal/config"
	"rejoin/internal/history"
	"rejoin/internal/httpapi"
	"rejoin/internal/llm"
	"rejoin/internal/observability"
	"rejoin/internal/session"
	"rejoin/internal/store"
)

// BuildResult holds the wired application graph.
type BuildResult struct {
	Config  config.Config
	Engine  *session.Engine
	Client  llm.Client
	Metrics *observability.Metrics
	Window  *observability.StageWindow
	Debug   *httpapi.Server

	// Cleanup releases external resources (store, pooled connections).
	Cleanup func() error
}

// Build assembles the engine, the model client, and the debug surface from
// configuration. confirm is asked before a missing store directory is
// created; an error from here means setup failed and the process should
// exit non-zero.
func Build(ctx context.Context, cfg config.Config, confirm store.ConfirmFunc, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewStageWindow(256)

	st, err := store.Open(ctx, cfg.DatabaseURL, cfg.StoreDir, confirm, logger)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	state, convs, records, err := st.Load(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load record store: %w", err)
	}

	index := history.NewIndex(cfg.HistoryLimit, cfg.GlobalHistoryLimit)
	index.Rebuild(records)

	engine := session.NewEngine(state, convs, index, st, metrics, logger)

	base, err := llm.New(llm.Config{
		Mode:         cfg.ClientMode,
		APIBaseURL:   cfg.APIBaseURL,
		APIKey:       cfg.APIKey,
		GatewayURL:   cfg.GatewayURL,
		GatewayToken: cfg.GatewayToken,
		Timeout:      cfg.RequestTimeout,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build model client: %w", err)
	}
	client := llm.NewRetryingClient(base, cfg.RetryAttempts, cfg.RetryBase, cfg.RetryCap, metrics, window, logger)

	cleanup := func() error {
		if closer, ok := base.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return st.Close()
	}

	return &BuildResult{
		Config:  cfg,
		Engine:  engine,
		Client:  client,
		Metrics: metrics,
		Window:  window,
		Debug:   httpapi.New(engine, window),
		Cleanup: cleanup,
	}, nil
}
