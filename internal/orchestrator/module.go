package orchestrator

import (
	"context"

	"github.com/Lol3rrr/cfuzz/config"
	"github.com/Lol3rrr/cfuzz/internal/events"
	"github.com/Lol3rrr/cfuzz/internal/registry"
	"github.com/Lol3rrr/cfuzz/internal/runner"
	"github.com/Lol3rrr/cfuzz/internal/storage"
	"github.com/Lol3rrr/cfuzz/pkg/telemetry"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lc        fx.Lifecycle
	Config    *config.AppConfig
	Logger    *zap.Logger
	Runner    runner.Runner
	Storage   *storage.Handle
	Registry  *registry.Registry
	Events    *events.Publisher
	TracerFac *telemetry.TracerFactory
}

func NewOrchestrator(p Params) *Orchestrator {
	logger := p.Logger.Named("orchestrator")
	o := New(p.Runner, p.Storage, p.Registry, logger,
		WithEvents(p.Events),
		WithTracerFactory(p.TracerFac),
		WithRunTimeout(p.Config.RunnerConfig.RunTimeout),
	)

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return o.Shutdown(ctx)
		},
	})
	return o
}

var Module = fx.Module("orchestrator",
	fx.Provide(NewOrchestrator),
)
