package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcphub/internal/domain"
	"mcphub/internal/infra/approval"
	"mcphub/internal/infra/mcpcodec"
	"mcphub/internal/infra/relay"
	"mcphub/internal/infra/telemetry"
	"mcphub/internal/infra/upstream"
)

// Resolver looks up a qualified tool name in the catalog.
type Resolver interface {
	Resolve(qualified string) (domain.ToolDescriptor, bool)
}

// HealthView is the part of the monitor the dispatcher consults.
type HealthView interface {
	IsHealthy(name string) bool
	MarkSuspect(name string)
}

// Upstream issues requests to a named backend.
type Upstream interface {
	Call(ctx context.Context, backend, method string, params any) (json.RawMessage, error)
	OpenStream(ctx context.Context, backend, method string, params any) (io.ReadCloser, error)
}

type Options struct {
	ValidateArguments bool
	StreamBufferSize  int
	Logger            *zap.Logger
	Metrics           domain.Metrics
}

// Dispatcher routes calls to the owning backend and turns every outcome into
// a domain.Result.
type Dispatcher struct {
	catalog    Resolver
	health     HealthView
	upstream   Upstream
	approvals  *approval.Registry
	validator  *mcpcodec.ArgumentValidator
	bufferSize int
	logger     *zap.Logger
	metrics    domain.Metrics
	newID      func() string
}

func NewDispatcher(catalog Resolver, health HealthView, up Upstream, approvals *approval.Registry, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if approvals == nil {
		approvals = approval.NewRegistry(0)
	}
	d := &Dispatcher{
		catalog:    catalog,
		health:     health,
		upstream:   up,
		approvals:  approvals,
		bufferSize: opts.StreamBufferSize,
		logger:     logger.Named("router"),
		metrics:    metrics,
		newID:      uuid.NewString,
	}
	if opts.ValidateArguments {
		d.validator = mcpcodec.NewArgumentValidator()
	}
	return d
}

// CallSync issues tools/call and waits for the full response.
func (d *Dispatcher) CallSync(ctx context.Context, req domain.CallRequest) domain.Result {
	start := time.Now()
	req = d.normalize(req)

	tool, err := d.route(req)
	if err != nil {
		return d.fail(ctx, domain.CallModeSync, req, tool.BackendName, start, err)
	}
	body, err := d.upstream.Call(ctx, tool.BackendName, upstream.MethodToolsCall, callParams(tool.ToolName, req.Arguments))
	if err != nil {
		return d.fail(ctx, domain.CallModeSync, req, tool.BackendName, start, err)
	}

	res := d.trackPending(req, tool.BackendName, mcpcodec.Classify(body))
	d.observe(domain.CallModeSync, tool.BackendName, res, start)
	return res
}

// CallStream opens a streamed tools/call. Routing failures are returned as
// errors; anything after routing, including a failed upstream open, arrives
// as events on the channel.
func (d *Dispatcher) CallStream(ctx context.Context, req domain.CallRequest) (<-chan domain.Event, error) {
	start := time.Now()
	req = d.normalize(req)

	tool, err := d.route(req)
	if err != nil {
		d.fail(ctx, domain.CallModeStream, req, tool.BackendName, start, err)
		return nil, err
	}

	stream := relay.New(relay.Options{
		Backend:    tool.BackendName,
		BufferSize: d.bufferSize,
		Logger:     d.logger,
		Metrics:    d.metrics,
		OnPending: func(res domain.Result) domain.Result {
			return d.trackPending(req, tool.BackendName, res)
		},
	})

	body, err := d.upstream.OpenStream(ctx, tool.BackendName, upstream.MethodToolsCall, callParams(tool.ToolName, req.Arguments))
	if err != nil {
		d.fail(ctx, domain.CallModeStream, req, tool.BackendName, start, err)
		return stream.Failure(err), nil
	}
	d.observe(domain.CallModeStream, tool.BackendName, domain.Success(nil), start)
	return stream.Start(ctx, body), nil
}

// Approve resolves a pending approval by issuing tools/approve. The approval
// is consumed only once the request is on its way to a healthy backend; a
// transport failure puts it back for a retry.
func (d *Dispatcher) Approve(ctx context.Context, req domain.ApprovalRequest) domain.Result {
	start := time.Now()
	pending, ok := d.approvals.Peek(req.ApprovalID)
	if !ok {
		return d.failApproval(req, "", start, fmt.Errorf("%w: %s", domain.ErrUnknownApproval, req.ApprovalID))
	}
	if req.Tool != "" && req.Tool != pending.OriginalCall.QualifiedToolName {
		return d.failApproval(req, pending.BackendName, start, fmt.Errorf("%w: approval %s belongs to %s", domain.ErrInvalidRequest, req.ApprovalID, pending.OriginalCall.QualifiedToolName))
	}
	tool, ok := d.catalog.Resolve(pending.OriginalCall.QualifiedToolName)
	if !ok {
		return d.failApproval(req, pending.BackendName, start, fmt.Errorf("%w: %s", domain.ErrUnknownTool, pending.OriginalCall.QualifiedToolName))
	}
	if !d.health.IsHealthy(tool.BackendName) {
		return d.failApproval(req, tool.BackendName, start, fmt.Errorf("%w: %s", domain.ErrBackendUnavailable, tool.BackendName))
	}

	taken, err := d.approvals.Take(req.ApprovalID)
	if err != nil {
		return d.failApproval(req, tool.BackendName, start, err)
	}
	args := req.Arguments
	if args == nil {
		args = taken.OriginalCall.Arguments
	}
	if args == nil {
		args = map[string]any{}
	}

	body, err := d.upstream.Call(ctx, tool.BackendName, upstream.MethodApprove, map[string]any{
		"name":        tool.ToolName,
		"arguments":   args,
		"approval_id": taken.ApprovalID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrTransport) || errors.Is(err, domain.ErrBackendUnavailable) {
			if restoreErr := d.approvals.Restore(taken); restoreErr != nil {
				d.logger.Warn("approval could not be restored", telemetry.ApprovalIDField(taken.ApprovalID), zap.Error(restoreErr))
			}
		}
		d.markSuspect(ctx, tool.BackendName, err)
		return d.failApproval(req, tool.BackendName, start, err)
	}

	call := taken.OriginalCall
	call.Arguments = args
	res := d.trackPending(call, tool.BackendName, mcpcodec.Classify(body))
	d.observe(domain.CallModeApprove, tool.BackendName, res, start)
	return res
}

func (d *Dispatcher) normalize(req domain.CallRequest) domain.CallRequest {
	if req.ID == "" {
		req.ID = d.newID()
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}
	return req
}

// route resolves the tool and checks the owner is healthy. No network call
// is made here.
func (d *Dispatcher) route(req domain.CallRequest) (domain.ToolDescriptor, error) {
	backend, _, ok := domain.SplitQualifiedName(req.QualifiedToolName)
	if !ok {
		return domain.ToolDescriptor{}, fmt.Errorf("%w: %s", domain.ErrUnknownTool, req.QualifiedToolName)
	}
	tool, ok := d.catalog.Resolve(req.QualifiedToolName)
	if !ok {
		return domain.ToolDescriptor{BackendName: backend}, fmt.Errorf("%w: %s", domain.ErrUnknownTool, req.QualifiedToolName)
	}
	if !d.health.IsHealthy(tool.BackendName) {
		return tool, fmt.Errorf("%w: %s", domain.ErrBackendUnavailable, tool.BackendName)
	}
	if d.validator != nil {
		if err := d.validator.Validate(tool, req.Arguments); err != nil {
			return tool, err
		}
	}
	return tool, nil
}

// trackPending registers a pending result, assigning an approval id when the
// backend did not supply one.
func (d *Dispatcher) trackPending(req domain.CallRequest, backend string, res domain.Result) domain.Result {
	if res.Kind != domain.ResultPending {
		return res
	}
	id := res.ApprovalID
	if id == "" {
		id = d.newID()
	}
	res = mcpcodec.WithApprovalID(res, id)
	_, err := d.approvals.Register(req, backend, id)
	switch {
	case err == nil:
		return res
	case errors.Is(err, domain.ErrApprovalInUse):
		// The backend repeated an id that is still awaiting approval.
		return res
	default:
		d.logger.Warn("pending approval not registered",
			telemetry.BackendField(backend),
			telemetry.ApprovalIDField(id),
			zap.Error(err),
		)
		return domain.Failure(err)
	}
}

func (d *Dispatcher) fail(ctx context.Context, mode domain.CallMode, req domain.CallRequest, backend string, start time.Time, err error) domain.Result {
	d.markSuspect(ctx, backend, err)
	res := domain.Failure(err)
	d.observe(mode, backend, res, start)
	telemetry.LoggerWithRequest(ctx, d.logger).Warn("call failed",
		telemetry.EventField(telemetry.EventRouteError),
		telemetry.ToolField(req.QualifiedToolName),
		telemetry.CallIDField(req.ID),
		telemetry.DurationField(time.Since(start)),
		zap.String("mode", string(mode)),
		zap.Error(err),
	)
	return res
}

func (d *Dispatcher) failApproval(req domain.ApprovalRequest, backend string, start time.Time, err error) domain.Result {
	res := domain.Failure(err)
	d.observe(domain.CallModeApprove, backend, res, start)
	d.logger.Warn("approval failed",
		telemetry.EventField(telemetry.EventRouteError),
		telemetry.ApprovalIDField(req.ApprovalID),
		telemetry.ToolField(req.Tool),
		zap.Error(err),
	)
	return res
}

// markSuspect flags the backend after a transport failure the caller did not
// cause by going away.
func (d *Dispatcher) markSuspect(ctx context.Context, backend string, err error) {
	if backend == "" || ctx.Err() != nil || !errors.Is(err, domain.ErrTransport) {
		return
	}
	d.health.MarkSuspect(backend)
}

func (d *Dispatcher) observe(mode domain.CallMode, backend string, res domain.Result, start time.Time) {
	d.metrics.ObserveCall(domain.CallMetric{
		Backend:  backend,
		Mode:     mode,
		Status:   domain.CallStatusOf(res.Kind),
		Reason:   reasonOf(res),
		Duration: time.Since(start),
	})
}

func reasonOf(res domain.Result) string {
	if res.Kind != domain.ResultFailure {
		return ""
	}
	if res.Cause == nil {
		return "backend_error"
	}
	return domain.FailureName(res.Cause)
}

func callParams(tool string, args map[string]any) map[string]any {
	return map[string]any{
		"name":      tool,
		"arguments": args,
	}
}
