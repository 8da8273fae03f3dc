package store

import (
	"encoding/json"
	"fmt"
)

// applyPatch merges top-level patch keys into an existing JSON body.
func applyPatch(data json.RawMessage, patch map[string]any) (json.RawMessage, error) {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode for patch: %w", err)
	}
	for k, v := range patch {
		body[k] = v
	}
	merged, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode patched document: %w", err)
	}
	return merged, nil
}
