package relay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"mcphub/internal/domain"
	"mcphub/internal/infra/mcpcodec"
	"mcphub/internal/infra/telemetry"
	"mcphub/internal/infra/upstream"
)

const maxLineBytes = 4 << 20

var dataPrefix = []byte("data:")

// PendingFunc registers a pending line and returns the result to forward.
type PendingFunc func(res domain.Result) domain.Result

type Options struct {
	Backend    string
	BufferSize int
	OnPending  PendingFunc
	Logger     *zap.Logger
	Metrics    domain.Metrics
}

// Relay forwards one upstream stream to one downstream consumer.
type Relay struct {
	backend   string
	size      int
	onPending PendingFunc
	logger    *zap.Logger
	metrics   domain.Metrics
}

func New(opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	size := opts.BufferSize
	if size <= 0 {
		size = domain.DefaultStreamBufferSize
	}
	return &Relay{
		backend:   opts.Backend,
		size:      size,
		onPending: opts.OnPending,
		logger:    logger.Named("relay"),
		metrics:   metrics,
	}
}

// Start reads body line by line and emits one event per non-blank line, in
// arrival order. The channel is closed when the body ends, a line carries an
// error, reading fails or ctx is done. Cancelling ctx closes body at once.
func (r *Relay) Start(ctx context.Context, body io.ReadCloser) <-chan domain.Event {
	out := make(chan domain.Event, r.size)
	stop := context.AfterFunc(ctx, func() {
		_ = body.Close()
	})
	go func() {
		defer close(out)
		defer func() {
			stop()
			_ = body.Close()
		}()
		r.pump(ctx, body, out)
	}()
	return out
}

// Failure returns a closed channel carrying a single error event.
func (r *Relay) Failure(err error) <-chan domain.Event {
	out := make(chan domain.Event, 1)
	event := domain.EventFromResult(domain.Failure(err))
	if message, ok := StatusMessage(err); ok {
		event = domain.EventFromResult(domain.BackendFailure(message))
	}
	r.metrics.ObserveStreamEvent(r.backend, event.Kind)
	out <- event
	close(out)
	return out
}

// StatusMessage reports "HTTP error: <status>" for a non-2xx upstream reply.
func StatusMessage(err error) (string, bool) {
	var status *upstream.StatusError
	if errors.As(err, &status) {
		return status.Error(), true
	}
	return "", false
}

func (r *Relay) pump(ctx context.Context, body io.Reader, out chan<- domain.Event) {
	reader := bufio.NewReaderSize(body, 64*1024)
	forwarded := 0
	reason := "eof"
	defer func() {
		r.logger.Debug("stream closed",
			telemetry.EventField(telemetry.EventStreamClosed),
			telemetry.BackendField(r.backend),
			zap.Int("events", forwarded),
			zap.String("reason", reason),
		)
	}()

	for {
		line, readErr := readLine(reader)
		if payload, ok := linePayload(line); ok {
			event := r.classify(payload)
			if !r.send(ctx, out, event) {
				reason = "cancelled"
				return
			}
			forwarded++
			if event.Kind == domain.EventError {
				reason = "backend error"
				return
			}
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			return
		}
		if ctx.Err() != nil {
			reason = "cancelled"
			return
		}
		reason = "read error"
		failure := domain.Failure(&upstream.TransportError{
			Backend: r.backend,
			Method:  upstream.MethodToolsCall,
			Err:     fmt.Errorf("stream read: %w", readErr),
		})
		r.send(ctx, out, domain.EventFromResult(failure))
		return
	}
}

func (r *Relay) classify(payload []byte) domain.Event {
	res := mcpcodec.ClassifyLine(payload)
	if res.Kind == domain.ResultPending && r.onPending != nil {
		res = r.onPending(res)
	}
	return domain.EventFromResult(res)
}

func (r *Relay) send(ctx context.Context, out chan<- domain.Event, event domain.Event) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- event:
		r.metrics.ObserveStreamEvent(r.backend, event.Kind)
		return true
	}
}

// readLine returns the next line without its terminator. Lines longer than
// maxLineBytes are truncated.
func readLine(reader *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if len(line)+len(chunk) <= maxLineBytes {
			line = append(line, chunk...)
		}
		if err != nil || !isPrefix {
			return line, err
		}
	}
}

func linePayload(line []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(line)
	if after, ok := bytes.CutPrefix(trimmed, dataPrefix); ok {
		trimmed = bytes.TrimSpace(after)
	}
	if len(trimmed) == 0 {
		return nil, false
	}
	return trimmed, true
}
