package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mcphub/internal/domain"
)

// callBody accepts both the function-call envelope
// {id, type:"function", function:{name, arguments}} and the short form
// {tool, arguments}.
type callBody struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function *functionBody   `json:"function"`
	Tool     string          `json:"tool"`
	Args     json.RawMessage `json:"arguments"`
}

type functionBody struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"arguments"`
}

type approveBody struct {
	Tool       string          `json:"tool"`
	Args       json.RawMessage `json:"arguments"`
	ApprovalID string          `json:"approval_id"`
}

func decodeBody(r *http.Request, v any) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrInvalidRequest, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty body", domain.ErrInvalidRequest)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func parseCall(r *http.Request) (domain.CallRequest, error) {
	var body callBody
	if err := decodeBody(r, &body); err != nil {
		return domain.CallRequest{}, err
	}
	if body.Type != "" && body.Type != "function" {
		return domain.CallRequest{}, fmt.Errorf("%w: unsupported call type %q", domain.ErrInvalidRequest, body.Type)
	}

	name, rawArgs := body.Tool, body.Args
	if body.Function != nil {
		name, rawArgs = body.Function.Name, body.Function.Args
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.CallRequest{}, fmt.Errorf("%w: tool name is required", domain.ErrInvalidRequest)
	}
	args, err := parseArguments(rawArgs)
	if err != nil {
		return domain.CallRequest{}, err
	}
	return domain.CallRequest{ID: body.ID, QualifiedToolName: name, Arguments: args}, nil
}

func parseApproval(r *http.Request) (domain.ApprovalRequest, error) {
	var body approveBody
	if err := decodeBody(r, &body); err != nil {
		return domain.ApprovalRequest{}, err
	}
	if strings.TrimSpace(body.ApprovalID) == "" {
		return domain.ApprovalRequest{}, fmt.Errorf("%w: approval_id is required", domain.ErrInvalidRequest)
	}
	req := domain.ApprovalRequest{Tool: strings.TrimSpace(body.Tool), ApprovalID: body.ApprovalID}
	if len(body.Args) > 0 {
		args, err := parseArguments(body.Args)
		if err != nil {
			return domain.ApprovalRequest{}, err
		}
		req.Arguments = args
	}
	return req, nil
}

var errArgumentsShape = errors.New("arguments must be an object")

// parseArguments accepts an object, null, or a string holding a JSON object
// as function-calling clients send it.
func parseArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		if strings.TrimSpace(text) == "" {
			return map[string]any{}, nil
		}
		raw = json.RawMessage(text)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, errArgumentsShape)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
