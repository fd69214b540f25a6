package database

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// inserts a single result, results are never updated
func AddResult(ctx context.Context, db *gorm.DB, result *ResultRecord) error {
	return db.WithContext(ctx).Create(result).Error
}

func ResultsByProject(ctx context.Context, db *gorm.DB, projectName string) ([]ResultRecord, error) {
	var results []ResultRecord
	err := db.WithContext(ctx).
		Where("pname = ?", projectName).
		Order("id").
		Find(&results).Error
	return results, err
}

// insert or replace a project row, targets are not touched
func UpsertProject(ctx context.Context, db *gorm.DB, project *ProjectRecord) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(project).Error
}

// insert or replace a target row
func UpsertTarget(ctx context.Context, db *gorm.DB, target *TargetRecord) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(target).Error
}

// DeleteProject removes the project, its targets and its results in one transaction.
func DeleteProject(ctx context.Context, db *gorm.DB, name string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", name).Delete(&ProjectRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("pname = ?", name).Delete(&ResultRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("pname = ?", name).Delete(&TargetRecord{}).Error
	})
}

func GetProject(ctx context.Context, db *gorm.DB, name string) (ProjectRecord, error) {
	var project ProjectRecord
	err := db.WithContext(ctx).Where("name = ?", name).First(&project).Error
	return project, err
}

func AllProjects(ctx context.Context, db *gorm.DB) ([]ProjectRecord, error) {
	var projects []ProjectRecord
	err := db.WithContext(ctx).Order("name").Find(&projects).Error
	return projects, err
}

func AllTargets(ctx context.Context, db *gorm.DB) ([]TargetRecord, error) {
	var targets []TargetRecord
	err := db.WithContext(ctx).Order("pname").Order("name").Find(&targets).Error
	return targets, err
}

func TargetsByProject(ctx context.Context, db *gorm.DB, projectName string) ([]TargetRecord, error) {
	var targets []TargetRecord
	err := db.WithContext(ctx).Where("pname = ?", projectName).Order("name").Find(&targets).Error
	return targets, err
}
