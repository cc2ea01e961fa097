package upstream

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

type requestBuilder struct {
	prefix string
	seq    atomic.Uint64
}

func (b *requestBuilder) Build(method string, params any) ([]byte, error) {
	seq := b.seq.Add(1)
	id, err := jsonrpc.MakeID(fmt.Sprintf("%s-%s-%d", b.prefix, method, seq))
	if err != nil {
		return nil, fmt.Errorf("build request id: %w", err)
	}
	if params == nil {
		params = struct{}{}
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req := &jsonrpc.Request{ID: id, Method: method, Params: rawParams}
	wire, err := jsonrpc.EncodeMessage(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return wire, nil
}
