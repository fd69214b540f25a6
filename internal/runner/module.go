package runner

import (
	"github.com/Lol3rrr/cfuzz/config"
	"github.com/Lol3rrr/cfuzz/pkg/watchdog"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config   *config.AppConfig
	Logger   *zap.Logger
	WatchDog *watchdog.WatchDogFactory
	Observer ArtifactObserver `optional:"true"`
}

func NewRunner(p Params) Runner {
	return NewProcessRunner(
		p.Config.RunnerConfig,
		p.Logger.Named("runner"),
		WithWatchDog(p.WatchDog, p.Observer),
	)
}

var Module = fx.Module("runner",
	fx.Provide(
		watchdog.NewWatchDogFactory,
		NewRunner,
	),
)
