package mcpcodec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"mcphub/internal/domain"
)

// ToolSpec is one tool as a backend described it.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Function    map[string]json.RawMessage
}

var (
	errMissingName   = errors.New("tool name is required")
	errInvalidSchema = errors.New("tool parameters must be a JSON Schema object")
	errUnknownShape  = errors.New("tool entry has neither function nor name")
)

// InitializeTools returns result.tools from an initialize response, if any.
func InitializeTools(body []byte) []json.RawMessage {
	var doc struct {
		Result struct {
			Tools []json.RawMessage `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}
	return doc.Result.Tools
}

// ToolListItems extracts the tool entries from a tools/list response. The
// result may be a list, an object with a tools field, or the body may be a
// bare list.
func ToolListItems(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode tool list: %w", err)
		}
		return items, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}
	if rawErr, ok := doc["error"]; ok {
		return nil, fmt.Errorf("tools/list: %s", ErrorMessage(rawErr))
	}
	result, ok := doc["result"]
	if !ok {
		return nil, nil
	}
	result = bytes.TrimSpace(result)
	if len(result) > 0 && result[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(result, &items); err != nil {
			return nil, fmt.Errorf("decode tool list: %w", err)
		}
		return items, nil
	}
	var wrapped struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}
	return wrapped.Tools, nil
}

// DecodeTool accepts {function:{...}}, {name, parameters} and
// {name, inputSchema}.
func DecodeTool(item json.RawMessage) (ToolSpec, error) {
	var entry map[string]json.RawMessage
	if err := json.Unmarshal(item, &entry); err != nil {
		return ToolSpec{}, fmt.Errorf("decode tool: %w", err)
	}

	function := entry
	if rawFn, ok := entry["function"]; ok {
		function = nil
		if err := json.Unmarshal(rawFn, &function); err != nil || function == nil {
			return ToolSpec{}, fmt.Errorf("decode tool function: %w", errUnknownShape)
		}
	} else if _, ok := entry["name"]; !ok {
		return ToolSpec{}, errUnknownShape
	}

	spec := ToolSpec{Function: cloneFields(function)}
	if rawName, ok := function["name"]; ok {
		_ = json.Unmarshal(rawName, &spec.Name)
	}
	if spec.Name == "" {
		return ToolSpec{}, errMissingName
	}
	if rawDesc, ok := function["description"]; ok {
		_ = json.Unmarshal(rawDesc, &spec.Description)
	}

	params, ok := function["parameters"]
	if !ok {
		if schema, has := function["inputSchema"]; has {
			params = schema
			spec.Function["parameters"] = schema
			delete(spec.Function, "inputSchema")
		}
	}
	if len(params) > 0 && !bytes.Equal(bytes.TrimSpace(params), []byte("null")) {
		if err := checkSchema(params); err != nil {
			return ToolSpec{}, err
		}
		spec.Parameters = params
	}
	return spec, nil
}

// FunctionSchema renders the tool as {"type":"function","function":{...}}
// with the function name replaced by qualified.
func FunctionSchema(spec ToolSpec, qualified string) (json.RawMessage, error) {
	function := cloneFields(spec.Function)
	name, err := json.Marshal(qualified)
	if err != nil {
		return nil, err
	}
	function["name"] = name
	return json.Marshal(map[string]any{
		"type":     "function",
		"function": function,
	})
}

// Descriptor builds the catalog entry for a decoded tool.
func Descriptor(backend string, spec ToolSpec) (domain.ToolDescriptor, error) {
	qualified := domain.QualifiedName(backend, spec.Name)
	schema, err := FunctionSchema(spec, qualified)
	if err != nil {
		return domain.ToolDescriptor{}, fmt.Errorf("encode tool schema: %w", err)
	}
	return domain.ToolDescriptor{
		QualifiedName: qualified,
		BackendName:   backend,
		ToolName:      spec.Name,
		Description:   spec.Description,
		Parameters:    spec.Parameters,
		Schema:        schema,
	}, nil
}

func checkSchema(raw json.RawMessage) error {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return errInvalidSchema
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return fmt.Errorf("%w: %v", errInvalidSchema, err)
	}
	return nil
}

func cloneFields(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
