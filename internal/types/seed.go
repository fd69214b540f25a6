package types

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Projects []any `yaml:"projects"`
}

// LoadProjectsFile reads a YAML list of projects. The document uses the
// same shape as the JSON API, e.g.
//
//	projects:
//	  - name: demo
//	    source: {Git: {repo: "https://example/demo.git"}}
//	    targets:
//	      - {name: t1, folder: ., target: {CargoFuzz: {name: fuzz_1}}}
func LoadProjectsFile(path string) ([]Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read projects file: %w", err)
	}
	return ParseProjects(data)
}

func ParseProjects(data []byte) ([]Project, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse projects file: %w", err)
	}

	projects := make([]Project, 0, len(seed.Projects))
	for i, raw := range seed.Projects {
		// yaml.v3 decodes mappings with string keys, so the JSON codec can take over
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("project #%d: %w", i, err)
		}
		var p Project
		if err := json.Unmarshal(encoded, &p); err != nil {
			return nil, fmt.Errorf("project #%d: %w", i, err)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}
