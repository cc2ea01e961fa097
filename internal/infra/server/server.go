package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mcphub/internal/domain"
	"mcphub/internal/infra/monitor"
	"mcphub/internal/infra/telemetry"
)

const (
	routePrefix    = "/mcp_hub"
	defaultMaxBody = 1 << 20
)

// Dispatcher executes tool calls.
type Dispatcher interface {
	CallSync(ctx context.Context, req domain.CallRequest) domain.Result
	CallStream(ctx context.Context, req domain.CallRequest) (<-chan domain.Event, error)
	Approve(ctx context.Context, req domain.ApprovalRequest) domain.Result
}

// Backends exposes configured backends and their health.
type Backends interface {
	Entries() []domain.BackendEntry
	Health(name string) (domain.BackendHealth, bool)
	Refresh(ctx context.Context) monitor.RefreshReport
}

type Tools interface {
	Snapshot() domain.ToolSnapshot
}

// Approvals lists and rejects pending approvals.
type Approvals interface {
	List() []domain.PendingApproval
	Reject(approvalID string) error
}

type Options struct {
	Dispatcher Dispatcher
	Backends   Backends
	Tools      Tools
	Approvals  Approvals
	MaxBody    int64
	Heartbeat  time.Duration
	Logger     *zap.Logger
}

// Server is the hub's HTTP API.
type Server struct {
	dispatcher Dispatcher
	backends   Backends
	tools      Tools
	approvals  Approvals
	maxBody    int64
	heartbeat  time.Duration
	logger     *zap.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBody := opts.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = HeartbeatInterval
	}
	return &Server{
		dispatcher: opts.Dispatcher,
		backends:   opts.Backends,
		tools:      opts.Tools,
		approvals:  opts.Approvals,
		maxBody:    maxBody,
		heartbeat:  heartbeat,
		logger:     logger.Named("http"),
	}
}

// Handler returns the API with its middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.maxBodyMiddleware(handler)
	handler = s.requestIDMiddleware(handler)
	return handler
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+routePrefix+"/servers", s.handleServers)
	mux.HandleFunc("GET "+routePrefix+"/tools", s.handleTools)
	mux.HandleFunc("GET "+routePrefix+"/health", s.handleHealth)
	mux.HandleFunc("POST "+routePrefix+"/call", s.handleCall)
	mux.HandleFunc("POST "+routePrefix+"/call_stream", s.handleCallStream)
	mux.HandleFunc("POST "+routePrefix+"/approve", s.handleApprove)
	mux.HandleFunc("GET "+routePrefix+"/approvals", s.handleListApprovals)
	mux.HandleFunc("DELETE "+routePrefix+"/approvals/{id}", s.handleRejectApproval)
	mux.HandleFunc("POST "+routePrefix+"/refresh", s.handleRefresh)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = domain.DefaultListenAddress
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("api server failed to start: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("api server shutdown error", zap.Error(err))
			return err
		}
		s.logger.Info("api server stopped")
		return nil
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := telemetry.EnsureRequestID(r.Context(), r.Header.Get(telemetry.RequestIDHeader))
		w.Header().Set(telemetry.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFailure renders err in the same shape as a failed call.
func writeFailure(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), domain.Failure(err).Wire())
}

func statusFor(err error) int {
	code, ok := domain.CodeFrom(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeUnavailable:
		return http.StatusServiceUnavailable
	case domain.CodeFailedPrecond:
		return http.StatusConflict
	case domain.CodeCanceled:
		return 499
	case domain.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
