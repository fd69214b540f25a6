package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Lol3rrr/cfuzz/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const redisPingTimeout = 5 * time.Second

type RedisParams struct {
	fx.In

	Lc     fx.Lifecycle
	Config *config.AppConfig
	Logger *zap.Logger
}

// NewRedisClient connects to OVERRIDE_REDIS_URL, or to the sentinel set in
// REDIS_SENTINEL_HOSTS. It returns nil when neither is configured.
func NewRedisClient(p RedisParams) (*redis.Client, error) {
	client, err := redisClientFor(p.Config)
	if err != nil {
		return nil, err
	}
	if client == nil {
		p.Logger.Info("redis not configured, running-job mirror disabled")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	p.Logger.Debug("connected to redis", zap.String("addr", client.Options().Addr))
	return client, nil
}

func redisClientFor(cfg *config.AppConfig) (*redis.Client, error) {
	switch {
	case cfg.RedisUrl != "":
		options, err := redis.ParseURL(cfg.RedisUrl)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return redis.NewClient(options), nil
	case cfg.RedisSentinelHosts != "":
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.RedisMasterName,
			SentinelAddrs: strings.Split(cfg.RedisSentinelHosts, ","),
		}), nil
	default:
		return nil, nil
	}
}
