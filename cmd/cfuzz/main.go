package main

import (
	"context"

	"github.com/Lol3rrr/cfuzz/config"
	"github.com/Lol3rrr/cfuzz/internal/api"
	"github.com/Lol3rrr/cfuzz/internal/events"
	"github.com/Lol3rrr/cfuzz/internal/orchestrator"
	"github.com/Lol3rrr/cfuzz/internal/registry"
	"github.com/Lol3rrr/cfuzz/internal/runner"
	"github.com/Lol3rrr/cfuzz/internal/storage"
	"github.com/Lol3rrr/cfuzz/internal/types"
	"github.com/Lol3rrr/cfuzz/pkg/database"
	"github.com/Lol3rrr/cfuzz/pkg/logger"
	"github.com/Lol3rrr/cfuzz/pkg/mq"
	"github.com/Lol3rrr/cfuzz/pkg/telemetry"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// seedProjects stores the projects of PROJECTS_FILE once storage is up.
func seedProjects(lc fx.Lifecycle, cfg *config.AppConfig, store *storage.Handle, logger *zap.Logger) {
	if cfg.ProjectsFile == "" {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			projects, err := types.LoadProjectsFile(cfg.ProjectsFile)
			if err != nil {
				return err
			}
			return seed(ctx, store, projects, logger)
		},
	})
}

func seed(ctx context.Context, store *storage.Handle, projects []types.Project, logger *zap.Logger) error {
	for _, p := range projects {
		if err := store.UpsertProject(ctx, p); err != nil {
			return err
		}
		for _, t := range p.Targets {
			if err := store.AddProjectTarget(ctx, p.Name, t); err != nil {
				return err
			}
		}
		logger.Info("seeded project", zap.String("project", p.Name), zap.Int("targets", len(p.Targets)))
	}
	return nil
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,        // inject config
			logger.NewLogger,         // inject logger
			database.NewDBConnection, // inject db connection
			database.NewRedisClient,  // inject redis client, nil without redis
			mq.NewRabbitMQ,           // inject rabbitmq service, nil without a broker
			events.NewPublisher,      // inject run event publisher
			func(p *events.Publisher) runner.ArtifactObserver { return p },
		),
		telemetry.Module,
		storage.Module,
		runner.Module,
		registry.Module,
		orchestrator.Module,
		fx.Invoke(
			seedProjects,
		),
		api.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
