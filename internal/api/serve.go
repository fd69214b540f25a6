package api

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/Lol3rrr/cfuzz/config"
	"github.com/Lol3rrr/cfuzz/internal/orchestrator"
	"github.com/Lol3rrr/cfuzz/internal/storage"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServerParams struct {
	fx.In
	Lifecycle    fx.Lifecycle
	Orchestrator *orchestrator.Orchestrator
	Storage      *storage.Handle
	Logger       *zap.Logger
	Config       *config.AppConfig
}

// NewHandler routes the API. All routes except /health live under /api.
func NewHandler(jobs Jobs, store Store, logger *zap.Logger, corsOrigin string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth())

	mux.HandleFunc("GET /api/targets", handleTargets(jobs, logger))
	mux.HandleFunc("GET /api/results", handleResults(store, logger))
	mux.HandleFunc("POST /api/run", handleRun(jobs, logger))
	mux.HandleFunc("POST /api/cancel", handleCancel(jobs, logger))

	mux.HandleFunc("POST /api/projects/update", handleUpdateProject(store, logger))
	mux.HandleFunc("POST /api/projects/remove", handleRemoveProject(store, logger))
	mux.HandleFunc("GET /api/projects/list", handleListProjects(store, logger))
	mux.HandleFunc("POST /api/projects/targets/add", handleAddTarget(store, logger))

	return withCORS(corsOrigin, mux)
}

// NewAPIServer creates the HTTP server and binds it to the app lifecycle.
func NewAPIServer(params ServerParams) *http.Server {
	logger := params.Logger.Named("api")
	handler := NewHandler(params.Orchestrator, params.Storage, logger, params.Config.CorsOrigin)

	server := &http.Server{
		Addr:    params.Config.ListenAddr,
		Handler: otelhttp.NewHandler(handler, "cfuzz-api"),
	}

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// bind synchronously so a taken port fails the start
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}
			logger.Info("API server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("API server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})

	return server
}

var Module = fx.Module("api",
	fx.Invoke(
		NewAPIServer,
	),
)
