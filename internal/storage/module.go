package storage

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Lc     fx.Lifecycle
	DB     *gorm.DB
	Logger *zap.Logger
}

func NewStorage(p Params) *Handle {
	logger := p.Logger.Named("storage")
	h := New(NewGormBackend(p.DB), logger)

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Debug("starting storage actor")
			h.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping storage actor")
			return h.Close()
		},
	})

	return h
}

var Module = fx.Module("storage",
	fx.Provide(NewStorage),
)
