package registry

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lc     fx.Lifecycle
	Logger *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

func NewRegistry(p Params) *Registry {
	logger := p.Logger.Named("registry")
	if p.Redis == nil {
		return New(logger, nil)
	}

	mirror := NewRedisMirror(p.Redis)
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := mirror.Reset(ctx); err != nil {
				logger.Warn("failed to reset running jobs in redis", zap.Error(err))
			}
			return nil
		},
	})
	return New(logger, mirror)
}

var Module = fx.Module("registry",
	fx.Provide(NewRegistry),
)
