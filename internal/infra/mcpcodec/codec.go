package mcpcodec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"mcphub/internal/domain"
)

// Classify interprets a tools/call or tools/approve response body.
// Backends are not held to strict JSON-RPC: any JSON document without
// "error" or "result" is treated as the result itself, and a non-JSON body
// is returned as opaque text.
func Classify(body []byte) domain.Result {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return domain.Opaque(string(body))
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return domain.Success(trimmed)
	}
	if rawErr, ok := doc["error"]; ok {
		return domain.BackendFailure(ErrorMessage(rawErr))
	}
	if result, ok := doc["result"]; ok {
		if id, pending := pendingApproval(result); pending {
			return domain.Pending(id, result)
		}
		return domain.Success(result)
	}
	return domain.Success(trimmed)
}

// ClassifyLine interprets one line of a streamed response. Lines that are
// not JSON objects, or objects carrying neither "error" nor "result", are
// forwarded as text.
func ClassifyLine(line []byte) domain.Result {
	trimmed := bytes.TrimSpace(line)
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return domain.Opaque(string(trimmed))
	}
	if rawErr, ok := doc["error"]; ok {
		return domain.BackendFailure(ErrorMessage(rawErr))
	}
	if result, ok := doc["result"]; ok {
		if id, pending := pendingApproval(result); pending {
			return domain.Pending(id, result)
		}
		return domain.Success(result)
	}
	return domain.Opaque(string(trimmed))
}

// ErrorMessage extracts error.message, falling back to the error's own text.
func ErrorMessage(raw json.RawMessage) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		if msgRaw, ok := obj["message"]; ok {
			var msg string
			if err := json.Unmarshal(msgRaw, &msg); err == nil {
				return msg
			}
			return string(msgRaw)
		}
		return string(bytes.TrimSpace(raw))
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(bytes.TrimSpace(raw))
}

// RPCError returns an error when body is a JSON-RPC error response.
func RPCError(body []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}
	if rawErr, ok := doc["error"]; ok {
		return fmt.Errorf("rpc error: %s", ErrorMessage(rawErr))
	}
	return nil
}

func pendingApproval(result json.RawMessage) (string, bool) {
	var fields struct {
		Status     string `json:"status"`
		ApprovalID any    `json:"approval_id"`
	}
	if err := json.Unmarshal(result, &fields); err != nil {
		return "", false
	}
	if fields.Status != domain.PendingStatus {
		return "", false
	}
	switch id := fields.ApprovalID.(type) {
	case string:
		return id, true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	default:
		return "", true
	}
}

// WithApprovalID records id on a pending result, adding it to the data
// object when the backend did not supply one.
func WithApprovalID(res domain.Result, id string) domain.Result {
	res.ApprovalID = id
	var data map[string]any
	if err := json.Unmarshal(res.Data, &data); err != nil || data == nil {
		data = map[string]any{"status": domain.PendingStatus}
	}
	if existing, ok := data["approval_id"].(string); ok && existing == id {
		return res
	}
	data["approval_id"] = id
	if raw, err := json.Marshal(data); err == nil {
		res.Data = raw
	}
	return res
}
