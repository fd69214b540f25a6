package types

import (
	"encoding/json"
	"errors"
)

// RunRequest is the fully resolved descriptor of one job.
//
// A request carrying only ProjectName and Name refers to a stored target
// and has to be resolved (see Resolved) before it can run.
type RunRequest struct {
	ProjectName string
	Name        string
	Runner      RunTarget
	Source      Source
	Folder      string
	Repeating   bool
}

type runRequestJSON struct {
	ProjectName string          `json:"pname"`
	Name        string          `json:"name"`
	Runner      json.RawMessage `json:"runner,omitempty"`
	Source      json.RawMessage `json:"source,omitempty"`
	Folder      string          `json:"folder,omitempty"`
	Repeating   bool            `json:"repeating"`
}

// NewRunRequest builds the request for a stored target of a project.
func NewRunRequest(p Project, t Target) RunRequest {
	return RunRequest{
		ProjectName: p.Name,
		Name:        t.Name,
		Runner:      t.Target,
		Source:      p.Source,
		Folder:      t.Folder,
		Repeating:   t.Repeating,
	}
}

// Resolved reports whether the request carries everything needed to run.
func (r RunRequest) Resolved() bool {
	return r.Runner != nil && r.Source != nil
}

// Clone returns an independent copy; variants are immutable values.
func (r RunRequest) Clone() RunRequest {
	return r
}

func (r RunRequest) Validate() error {
	if r.ProjectName == "" {
		return errors.New("pname is required")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func (r RunRequest) MarshalJSON() ([]byte, error) {
	raw := runRequestJSON{
		ProjectName: r.ProjectName,
		Name:        r.Name,
		Folder:      r.Folder,
		Repeating:   r.Repeating,
	}
	var err error
	if r.Runner != nil {
		if raw.Runner, err = MarshalRunTarget(r.Runner); err != nil {
			return nil, err
		}
	}
	if r.Source != nil {
		if raw.Source, err = MarshalSource(r.Source); err != nil {
			return nil, err
		}
	}
	return json.Marshal(raw)
}

func (r *RunRequest) UnmarshalJSON(data []byte) error {
	var raw runRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	req := RunRequest{
		ProjectName: raw.ProjectName,
		Name:        raw.Name,
		Folder:      raw.Folder,
		Repeating:   raw.Repeating,
	}
	var err error
	if !isNull(raw.Runner) {
		if req.Runner, err = UnmarshalRunTarget(raw.Runner); err != nil {
			return err
		}
	}
	if !isNull(raw.Source) {
		if req.Source, err = UnmarshalSource(raw.Source); err != nil {
			return err
		}
	}
	*r = req
	return nil
}
