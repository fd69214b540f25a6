package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Source describes where the code of a project lives.
//
// Implementations: Git.
type Source interface {
	sourceKind() string
}

// Git is a repository cloned with the git client.
type Git struct {
	Repo string `json:"repo"`
}

func (Git) sourceKind() string { return "Git" }

func MarshalSource(s Source) (json.RawMessage, error) {
	switch s := s.(type) {
	case Git:
		return encodeVariant(s.sourceKind(), s)
	case nil:
		return nil, fmt.Errorf("source: %w", ErrMissingVariant)
	default:
		return nil, fmt.Errorf("unknown source type %T", s)
	}
}

func UnmarshalSource(raw json.RawMessage) (Source, error) {
	tag, body, err := decodeVariant(raw)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	switch tag {
	case "Git":
		var g Git
		if err := json.Unmarshal(body, &g); err != nil {
			return nil, fmt.Errorf("failed to decode git source: %w", err)
		}
		if g.Repo == "" {
			return nil, errors.New("git source requires a repo")
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown source %q", tag)
	}
}
