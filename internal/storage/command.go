package storage

import (
	"context"

	"github.com/Lol3rrr/cfuzz/internal/types"
)

type command interface {
	op() string
	apply(ctx context.Context, b Backend) (any, error)
}

type storeResult struct {
	project string
	result  types.FuzzResult
}

func (storeResult) op() string { return "store_result" }

func (c storeResult) apply(ctx context.Context, b Backend) (any, error) {
	return nil, b.StoreResult(ctx, c.project, c.result)
}

type loadResults struct {
	project string
}

func (loadResults) op() string { return "load_results" }

func (c loadResults) apply(ctx context.Context, b Backend) (any, error) {
	results, err := b.LoadResults(ctx, c.project)
	if results == nil {
		results = []types.FuzzResult{}
	}
	return results, err
}

type upsertProject struct {
	project types.Project
}

func (upsertProject) op() string { return "upsert_project" }

func (c upsertProject) apply(ctx context.Context, b Backend) (any, error) {
	return nil, b.UpsertProject(ctx, c.project)
}

type removeProject struct {
	name string
}

func (removeProject) op() string { return "remove_project" }

func (c removeProject) apply(ctx context.Context, b Backend) (any, error) {
	return nil, b.RemoveProject(ctx, c.name)
}

type loadProjects struct{}

func (loadProjects) op() string { return "load_projects" }

func (loadProjects) apply(ctx context.Context, b Backend) (any, error) {
	projects, err := b.LoadProjects(ctx)
	if projects == nil {
		projects = []types.Project{}
	}
	return projects, err
}

type addProjectTarget struct {
	project string
	target  types.Target
}

func (addProjectTarget) op() string { return "add_project_target" }

func (c addProjectTarget) apply(ctx context.Context, b Backend) (any, error) {
	return nil, b.AddProjectTarget(ctx, c.project, c.target)
}

type findTarget struct {
	project string
	target  string
}

type projectTarget struct {
	project types.Project
	target  types.Target
}

func (findTarget) op() string { return "find_target" }

func (c findTarget) apply(ctx context.Context, b Backend) (any, error) {
	p, t, err := b.FindTarget(ctx, c.project, c.target)
	return projectTarget{project: p, target: t}, err
}
