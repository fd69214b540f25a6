package database

import (
	"time"

	"gorm.io/datatypes"
)

// ProjectRecord represents a record in the projects table.
// Source holds the JSON encoded source variant, JSONB on postgres.
type ProjectRecord struct {
	Name   string         `gorm:"primaryKey;column:name"`
	Source datatypes.JSON `gorm:"column:source;not null"`
}

func (ProjectRecord) TableName() string { return "projects" }

// TargetRecord represents a record in the targets table, keyed by (pname, name).
type TargetRecord struct {
	ProjectName string         `gorm:"primaryKey;column:pname"`
	Name        string         `gorm:"primaryKey;column:name"`
	Folder      string         `gorm:"column:folder;not null"`
	Target      datatypes.JSON `gorm:"column:target;not null"`
	Repeating   bool           `gorm:"column:repeating;not null"`
}

func (TargetRecord) TableName() string { return "targets" }

// ResultRecord represents one crash input in the append-only results table.
type ResultRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement;column:id"`
	ProjectName string    `gorm:"column:pname;not null;index"`
	TargetName  string    `gorm:"column:tname;not null"`
	Input       []byte    `gorm:"column:input"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (ResultRecord) TableName() string { return "results" }

// NewResult creates a new ResultRecord with the provided parameters
func NewResult(projectName, targetName string, input []byte) *ResultRecord {
	return &ResultRecord{
		ProjectName: projectName,
		TargetName:  targetName,
		Input:       input,
		CreatedAt:   time.Now(),
	}
}
