package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// A single project, which may contain multiple fuzz targets
type Project struct {
	Name    string
	Source  Source
	Targets []Target
}

// A single fuzz target of a project
type Target struct {
	Name      string
	Folder    string // folder inside the checked-out source
	Target    RunTarget
	Repeating bool // run in a loop instead of once
}

// FuzzResult is one crash input found while fuzzing a target.
type FuzzResult struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

type projectJSON struct {
	Name    string          `json:"name"`
	Source  json.RawMessage `json:"source"`
	Targets []Target        `json:"targets"`
}

type targetJSON struct {
	Name      string          `json:"name"`
	Folder    string          `json:"folder"`
	Target    json.RawMessage `json:"target"`
	Repeating bool            `json:"repeating"`
}

func (p Project) MarshalJSON() ([]byte, error) {
	source, err := MarshalSource(p.Source)
	if err != nil {
		return nil, err
	}
	targets := p.Targets
	if targets == nil {
		targets = []Target{}
	}
	return json.Marshal(projectJSON{p.Name, source, targets})
}

func (p *Project) UnmarshalJSON(data []byte) error {
	var raw projectJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	source, err := UnmarshalSource(raw.Source)
	if err != nil {
		return err
	}
	*p = Project{Name: raw.Name, Source: source, Targets: raw.Targets}
	return nil
}

func (p Project) Validate() error {
	if p.Name == "" {
		return errors.New("project name is required")
	}
	if p.Source == nil {
		return fmt.Errorf("project %q: source: %w", p.Name, ErrMissingVariant)
	}
	for _, t := range p.Targets {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("project %q: %w", p.Name, err)
		}
	}
	return nil
}

// Target looks up a target by name.
func (p Project) Target(name string) (Target, bool) {
	for _, t := range p.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

func (t Target) MarshalJSON() ([]byte, error) {
	target, err := MarshalRunTarget(t.Target)
	if err != nil {
		return nil, err
	}
	return json.Marshal(targetJSON{t.Name, t.Folder, target, t.Repeating})
}

func (t *Target) UnmarshalJSON(data []byte) error {
	var raw targetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	target, err := UnmarshalRunTarget(raw.Target)
	if err != nil {
		return err
	}
	*t = Target{Name: raw.Name, Folder: raw.Folder, Target: target, Repeating: raw.Repeating}
	return nil
}

func (t Target) Validate() error {
	if t.Name == "" {
		return errors.New("target name is required")
	}
	if t.Target == nil {
		return fmt.Errorf("target %q: run target: %w", t.Name, ErrMissingVariant)
	}
	return nil
}
