package registry

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RunningKey is the redis set holding the names of running jobs.
const RunningKey = "cfuzz:running"

// RedisMirror mirrors the running set into a redis set.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client, key: RunningKey}
}

func (m *RedisMirror) Add(ctx context.Context, name string) error {
	return m.client.SAdd(ctx, m.key, name).Err()
}

func (m *RedisMirror) Remove(ctx context.Context, name string) error {
	return m.client.SRem(ctx, m.key, name).Err()
}

// Reset drops entries left behind by a previous process.
func (m *RedisMirror) Reset(ctx context.Context) error {
	return m.client.Del(ctx, m.key).Err()
}
