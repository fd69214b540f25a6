package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RunTarget specifies how a target is fuzzed.
//
// Implementations: CargoFuzz.
type RunTarget interface {
	runTargetKind() string
}

// CargoFuzz runs `cargo fuzz run <Name>`.
type CargoFuzz struct {
	Name string `json:"name"`
}

func (CargoFuzz) runTargetKind() string { return "CargoFuzz" }

func MarshalRunTarget(t RunTarget) (json.RawMessage, error) {
	switch t := t.(type) {
	case CargoFuzz:
		return encodeVariant(t.runTargetKind(), t)
	case nil:
		return nil, fmt.Errorf("run target: %w", ErrMissingVariant)
	default:
		return nil, fmt.Errorf("unknown run target type %T", t)
	}
}

func UnmarshalRunTarget(raw json.RawMessage) (RunTarget, error) {
	tag, body, err := decodeVariant(raw)
	if err != nil {
		return nil, fmt.Errorf("run target: %w", err)
	}
	switch tag {
	case "CargoFuzz":
		var c CargoFuzz
		if err := json.Unmarshal(body, &c); err != nil {
			return nil, fmt.Errorf("failed to decode cargo-fuzz target: %w", err)
		}
		if c.Name == "" {
			return nil, errors.New("cargo-fuzz target requires a name")
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown run target %q", tag)
	}
}
