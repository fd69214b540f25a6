package storage

import (
	"context"

	"github.com/Lol3rrr/cfuzz/internal/types"
)

// Backend is the persistent store owned by the actor. Implementations are
// only ever called from the actor goroutine and need no locking.
type Backend interface {
	StoreResult(ctx context.Context, project string, result types.FuzzResult) error
	LoadResults(ctx context.Context, project string) ([]types.FuzzResult, error)
	UpsertProject(ctx context.Context, project types.Project) error
	RemoveProject(ctx context.Context, name string) error
	LoadProjects(ctx context.Context) ([]types.Project, error)
	AddProjectTarget(ctx context.Context, project string, target types.Target) error
	FindTarget(ctx context.Context, project, target string) (types.Project, types.Target, error)
	Close() error
}
