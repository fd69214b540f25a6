package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Lol3rrr/cfuzz/internal/types"
	"github.com/Lol3rrr/cfuzz/pkg/database"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type gormBackend struct {
	db *gorm.DB
}

// NewGormBackend stores everything through gorm, see pkg/database for the tables.
func NewGormBackend(db *gorm.DB) Backend {
	return &gormBackend{db: db}
}

func (b *gormBackend) StoreResult(ctx context.Context, project string, result types.FuzzResult) error {
	return database.AddResult(ctx, b.db, database.NewResult(project, result.Name, result.Content))
}

func (b *gormBackend) LoadResults(ctx context.Context, project string) ([]types.FuzzResult, error) {
	records, err := database.ResultsByProject(ctx, b.db, project)
	if err != nil {
		return nil, err
	}
	results := make([]types.FuzzResult, 0, len(records))
	for _, r := range records {
		results = append(results, types.FuzzResult{Name: r.TargetName, Content: r.Input})
	}
	return results, nil
}

func (b *gormBackend) UpsertProject(ctx context.Context, project types.Project) error {
	if project.Name == "" {
		return errors.New("project name is required")
	}
	source, err := types.MarshalSource(project.Source)
	if err != nil {
		return err
	}
	return database.UpsertProject(ctx, b.db, &database.ProjectRecord{
		Name:   project.Name,
		Source: datatypes.JSON(source),
	})
}

func (b *gormBackend) RemoveProject(ctx context.Context, name string) error {
	return database.DeleteProject(ctx, b.db, name)
}

func (b *gormBackend) LoadProjects(ctx context.Context) ([]types.Project, error) {
	projectRecords, err := database.AllProjects(ctx, b.db)
	if err != nil {
		return nil, err
	}
	targetRecords, err := database.AllTargets(ctx, b.db)
	if err != nil {
		return nil, err
	}

	targets := make(map[string][]types.Target)
	for _, r := range targetRecords {
		t, err := targetFromRecord(r)
		if err != nil {
			return nil, err
		}
		targets[r.ProjectName] = append(targets[r.ProjectName], t)
	}

	projects := make([]types.Project, 0, len(projectRecords))
	for _, r := range projectRecords {
		p, err := projectFromRecord(r)
		if err != nil {
			return nil, err
		}
		p.Targets = targets[r.Name]
		projects = append(projects, p)
	}
	return projects, nil
}

func (b *gormBackend) AddProjectTarget(ctx context.Context, project string, target types.Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if _, err := b.getProject(ctx, project); err != nil {
		return err
	}
	runTarget, err := types.MarshalRunTarget(target.Target)
	if err != nil {
		return err
	}
	return database.UpsertTarget(ctx, b.db, &database.TargetRecord{
		ProjectName: project,
		Name:        target.Name,
		Folder:      target.Folder,
		Target:      datatypes.JSON(runTarget),
		Repeating:   target.Repeating,
	})
}

func (b *gormBackend) FindTarget(ctx context.Context, project, target string) (types.Project, types.Target, error) {
	record, err := b.getProject(ctx, project)
	if err != nil {
		return types.Project{}, types.Target{}, err
	}
	p, err := projectFromRecord(record)
	if err != nil {
		return types.Project{}, types.Target{}, err
	}
	targetRecords, err := database.TargetsByProject(ctx, b.db, project)
	if err != nil {
		return types.Project{}, types.Target{}, err
	}
	for _, r := range targetRecords {
		t, err := targetFromRecord(r)
		if err != nil {
			return types.Project{}, types.Target{}, err
		}
		p.Targets = append(p.Targets, t)
	}

	t, ok := p.Target(target)
	if !ok {
		return types.Project{}, types.Target{}, fmt.Errorf("%w: %s/%s", ErrTargetNotFound, project, target)
	}
	return p, t, nil
}

func (b *gormBackend) Close() error {
	return database.Close(b.db)
}

func (b *gormBackend) getProject(ctx context.Context, name string) (database.ProjectRecord, error) {
	record, err := database.GetProject(ctx, b.db, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return record, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	return record, err
}

func projectFromRecord(r database.ProjectRecord) (types.Project, error) {
	source, err := types.UnmarshalSource(json.RawMessage(r.Source))
	if err != nil {
		return types.Project{}, fmt.Errorf("project %q: %w", r.Name, err)
	}
	return types.Project{Name: r.Name, Source: source}, nil
}

func targetFromRecord(r database.TargetRecord) (types.Target, error) {
	runTarget, err := types.UnmarshalRunTarget(json.RawMessage(r.Target))
	if err != nil {
		return types.Target{}, fmt.Errorf("target %s/%s: %w", r.ProjectName, r.Name, err)
	}
	return types.Target{
		Name:      r.Name,
		Folder:    r.Folder,
		Target:    runTarget,
		Repeating: r.Repeating,
	}, nil
}
