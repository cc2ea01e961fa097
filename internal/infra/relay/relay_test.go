package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcphub/internal/domain"
	"mcphub/internal/infra/upstream"
)

type trackedBody struct {
	io.Reader
	closed atomic.Bool
	closer func()
}

func (b *trackedBody) Close() error {
	if b.closed.CompareAndSwap(false, true) && b.closer != nil {
		b.closer()
	}
	return nil
}

func collect(t *testing.T, ch <-chan domain.Event) []domain.Event {
	t.Helper()
	var events []domain.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, event)
		case <-timeout:
			t.Fatal("stream did not close")
			return nil
		}
	}
}

func TestRelay_ForwardsLinesInOrder(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","result":{"chunk":1}}`,
		``,
		`data: {"result":{"chunk":2}}`,
		`plain progress text`,
		`{"note":"no result field"}`,
		`{"result":"tail"}`,
	}, "\n")
	body := &trackedBody{Reader: strings.NewReader(input)}

	events := collect(t, New(Options{Backend: "svc"}).Start(context.Background(), body))
	require.Len(t, events, 5)

	require.Equal(t, domain.EventResult, events[0].Kind)
	require.JSONEq(t, `{"success":true,"result":{"chunk":1}}`, string(events[0].Data()))
	require.JSONEq(t, `{"success":true,"result":{"chunk":2}}`, string(events[1].Data()))
	require.Equal(t, domain.EventText, events[2].Kind)
	require.Equal(t, "plain progress text", string(events[2].Data()))
	require.Equal(t, `{"note":"no result field"}`, string(events[3].Data()))
	require.JSONEq(t, `{"success":true,"result":"tail"}`, string(events[4].Data()))
	require.True(t, body.closed.Load())
}

func TestRelay_ErrorLineEndsStream(t *testing.T) {
	input := "{\"result\":1}\n{\"error\":{\"message\":\"quota exceeded\"}}\n{\"result\":2}\n"
	body := &trackedBody{Reader: strings.NewReader(input)}

	events := collect(t, New(Options{}).Start(context.Background(), body))
	require.Len(t, events, 2)
	require.Equal(t, domain.EventError, events[1].Kind)
	require.JSONEq(t, `{"success":false,"error":"quota exceeded"}`, string(events[1].Data()))
}

func TestRelay_PendingLineRegistered(t *testing.T) {
	input := `{"result":{"status":"pending","approval_id":"a1"}}` + "\n"
	var registered []string
	relay := New(Options{OnPending: func(res domain.Result) domain.Result {
		registered = append(registered, res.ApprovalID)
		return res
	}})

	events := collect(t, relay.Start(context.Background(), &trackedBody{Reader: strings.NewReader(input)}))
	require.Len(t, events, 1)
	require.Equal(t, domain.EventPending, events[0].Kind)
	require.Equal(t, []string{"a1"}, registered)
	require.JSONEq(t, `{"success":false,"status":"pending","data":{"status":"pending","approval_id":"a1"}}`, string(events[0].Data()))
}

func TestRelay_CancelClosesUpstream(t *testing.T) {
	reader, writer := io.Pipe()
	body := &trackedBody{Reader: reader, closer: func() { _ = reader.Close() }}

	ctx, cancel := context.WithCancel(context.Background())
	ch := New(Options{BufferSize: 1}).Start(ctx, body)

	_, err := writer.Write([]byte("{\"result\":\"first\"}\n"))
	require.NoError(t, err)
	first := <-ch
	require.Equal(t, domain.EventResult, first.Kind)

	cancel()
	require.Eventually(t, body.closed.Load, time.Second, 5*time.Millisecond)
	collect(t, ch)

	_, err = writer.Write([]byte("{\"result\":\"late\"}\n"))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestRelay_ReadErrorEmitsFailure(t *testing.T) {
	reader, writer := io.Pipe()
	body := &trackedBody{Reader: reader}
	ch := New(Options{Backend: "svc"}).Start(context.Background(), body)

	go func() {
		_, _ = writer.Write([]byte("{\"result\":1}\n"))
		_ = writer.CloseWithError(errors.New("connection reset"))
	}()

	events := collect(t, ch)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventError, events[1].Kind)
	require.Equal(t, "TransportError", events[1].Result.Error)
	require.Contains(t, events[1].Result.Detail, "connection reset")
}

func TestRelay_FailureStatus(t *testing.T) {
	relay := New(Options{})
	err := &upstream.TransportError{Backend: "svc", Method: "tools/call", Err: &upstream.StatusError{StatusCode: 502, Status: "502 Bad Gateway"}}

	events := collect(t, relay.Failure(err))
	require.Len(t, events, 1)
	require.JSONEq(t, `{"success":false,"error":"HTTP error: 502 Bad Gateway"}`, string(events[0].Data()))

	events = collect(t, relay.Failure(domain.ErrBackendUnavailable))
	require.Equal(t, "BackendUnavailable", events[0].Result.Error)
}

func TestLinePayload(t *testing.T) {
	cases := map[string]string{
		"data: {\"a\":1}": `{"a":1}`,
		"data:x":          "x",
		"  text  ":        "text",
	}
	for in, want := range cases {
		got, ok := linePayload([]byte(in))
		require.True(t, ok, in)
		require.Equal(t, want, string(got))
	}
	_, ok := linePayload([]byte("data:   "))
	require.False(t, ok)
}
