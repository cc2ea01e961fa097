package mcpcodec

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"mcphub/internal/domain"
)

// ArgumentValidator checks call arguments against tool parameter schemas.
// Resolved schemas are cached by qualified name and schema text.
type ArgumentValidator struct {
	mu    sync.Mutex
	cache map[string]cachedSchema
}

type cachedSchema struct {
	source   string
	resolved *jsonschema.Resolved
}

func NewArgumentValidator() *ArgumentValidator {
	return &ArgumentValidator{cache: make(map[string]cachedSchema)}
}

// Validate returns an error wrapping domain.ErrInvalidArguments on mismatch.
// Tools without parameters accept anything.
func (v *ArgumentValidator) Validate(tool domain.ToolDescriptor, args map[string]any) error {
	if len(tool.Parameters) == 0 {
		return nil
	}
	resolved, err := v.resolve(tool)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidArguments, tool.QualifiedName, err)
	}

	// Round-trip so the instance only holds JSON value types.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
	}
	if instance == nil {
		instance = map[string]any{}
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
	}
	return nil
}

func (v *ArgumentValidator) resolve(tool domain.ToolDescriptor) (*jsonschema.Resolved, error) {
	source := string(tool.Parameters)

	v.mu.Lock()
	cached, ok := v.cache[tool.QualifiedName]
	v.mu.Unlock()
	if ok && cached.source == source {
		return cached.resolved, nil
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
		return nil, err
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cache[tool.QualifiedName] = cachedSchema{source: source, resolved: resolved}
	v.mu.Unlock()
	return resolved, nil
}
