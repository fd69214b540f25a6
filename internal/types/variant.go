package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingVariant is returned when a sum-typed field is absent.
var ErrMissingVariant = errors.New("missing variant")

// sum types travel as externally tagged objects: {"Git": {"repo": "..."}}
func encodeVariant(tag string, body any) (json.RawMessage, error) {
	return json.Marshal(map[string]any{tag: body})
}

func decodeVariant(raw json.RawMessage) (string, json.RawMessage, error) {
	if isNull(raw) {
		return "", nil, ErrMissingVariant
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", nil, fmt.Errorf("failed to decode variant: %w", err)
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("expected exactly one variant, got %d", len(m))
	}
	for tag, body := range m {
		return tag, body, nil
	}
	return "", nil, ErrMissingVariant
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
