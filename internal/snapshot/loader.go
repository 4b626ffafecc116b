package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Loader fetches the current entities from wherever the administration backend stores them.
type Loader interface {
	Load(ctx context.Context) (Entities, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Entities, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) (Entities, error) {
	return f(ctx)
}

// FileLoader reads entities from a JSON document. The file is re-read on every load so edits are
// picked up by the next invalidation.
type FileLoader struct {
	Path string
}

// Load implements Loader.
func (l FileLoader) Load(_ context.Context) (Entities, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return Entities{}, fmt.Errorf("read snapshot file: %w", err)
	}
	return Decode(data)
}

// Decode parses an entities document, rejecting unknown fields so typos surface as errors.
func Decode(data []byte) (Entities, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var e Entities
	if err := dec.Decode(&e); err != nil {
		return Entities{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return e, nil
}
