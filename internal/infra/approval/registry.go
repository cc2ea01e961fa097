package approval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcphub/internal/domain"
	"mcphub/internal/infra/telemetry"
)

// Registry tracks calls a backend deferred pending external approval.
// Entries live in memory only; each id resolves at most once.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*domain.PendingApproval
	order   []string
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
	metrics domain.Metrics
}

type Option func(*Registry)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger.Named("approval")
		}
	}
}

func WithMetrics(metrics domain.Metrics) Option {
	return func(r *Registry) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// NewRegistry builds a registry. A ttl of zero keeps approvals until resolved.
func NewRegistry(ttl time.Duration, opts ...Option) *Registry {
	r := &Registry{
		pending: make(map[string]*domain.PendingApproval),
		ttl:     ttl,
		now:     time.Now,
		logger:  zap.NewNop(),
		metrics: telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records call as awaiting approvalID.
func (r *Registry) Register(call domain.CallRequest, backend, approvalID string) (domain.PendingApproval, error) {
	approvalID = strings.TrimSpace(approvalID)
	if approvalID == "" {
		return domain.PendingApproval{}, fmt.Errorf("%w: approval id is required", domain.ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeExpiredLocked()

	if _, exists := r.pending[approvalID]; exists {
		return domain.PendingApproval{}, fmt.Errorf("%w: %s", domain.ErrApprovalInUse, approvalID)
	}
	now := r.now()
	entry := &domain.PendingApproval{
		ApprovalID:   approvalID,
		BackendName:  backend,
		OriginalCall: call,
		CreatedAt:    now,
	}
	if r.ttl > 0 {
		expires := now.Add(r.ttl)
		entry.ExpiresAt = &expires
	}
	r.insertLocked(entry)

	r.logger.Info("approval pending",
		telemetry.EventField(telemetry.EventApprovalPending),
		telemetry.ApprovalIDField(approvalID),
		telemetry.BackendField(backend),
		telemetry.ToolField(call.QualifiedToolName),
		telemetry.CallIDField(call.ID),
	)
	return *entry, nil
}

// Take removes and returns the approval. A second Take of the same id fails.
func (r *Registry) Take(approvalID string) (domain.PendingApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeExpiredLocked()

	entry, ok := r.pending[approvalID]
	if !ok {
		return domain.PendingApproval{}, unknown(approvalID)
	}
	r.deleteLocked(approvalID)
	r.logger.Info("approval resolved",
		telemetry.EventField(telemetry.EventApprovalResolved),
		telemetry.ApprovalIDField(approvalID),
		telemetry.BackendField(entry.BackendName),
	)
	return *entry, nil
}

// Restore puts back an approval taken for a resolution that never reached
// the backend. Expiry is kept from the original registration.
func (r *Registry) Restore(entry domain.PendingApproval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeExpiredLocked()

	if entry.Expired(r.now()) {
		return unknown(entry.ApprovalID)
	}
	if _, exists := r.pending[entry.ApprovalID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrApprovalInUse, entry.ApprovalID)
	}
	restored := entry
	r.insertLocked(&restored)
	return nil
}

func (r *Registry) Peek(approvalID string) (domain.PendingApproval, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeExpiredLocked()

	entry, ok := r.pending[approvalID]
	if !ok {
		return domain.PendingApproval{}, false
	}
	return *entry, true
}

// List returns pending approvals oldest first.
func (r *Registry) List() []domain.PendingApproval {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeExpiredLocked()

	out := make([]domain.PendingApproval, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.pending[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeExpiredLocked()
	return len(r.pending)
}

// Reject drops a pending approval without contacting the backend.
func (r *Registry) Reject(approvalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeExpiredLocked()

	if _, ok := r.pending[approvalID]; !ok {
		return unknown(approvalID)
	}
	r.deleteLocked(approvalID)
	return nil
}

// Sweep purges expired approvals and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purgeExpiredLocked()
}

// Run sweeps on every tick until ctx is done. It returns immediately when
// approvals never expire.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("expired approvals purged", zap.Int("count", n))
			}
		}
	}
}

func (r *Registry) insertLocked(entry *domain.PendingApproval) {
	r.pending[entry.ApprovalID] = entry
	r.order = append(r.order, entry.ApprovalID)
	r.metrics.SetPendingApprovals(len(r.pending))
}

func (r *Registry) deleteLocked(approvalID string) {
	delete(r.pending, approvalID)
	for i, id := range r.order {
		if id == approvalID {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.metrics.SetPendingApprovals(len(r.pending))
}

func (r *Registry) purgeExpiredLocked() int {
	if len(r.pending) == 0 || r.ttl <= 0 {
		return 0
	}
	now := r.now()
	filtered := r.order[:0]
	purged := 0
	for _, id := range r.order {
		entry, ok := r.pending[id]
		if !ok {
			continue
		}
		if entry.Expired(now) {
			delete(r.pending, id)
			purged++
			continue
		}
		filtered = append(filtered, id)
	}
	r.order = filtered
	if purged > 0 {
		r.metrics.SetPendingApprovals(len(r.pending))
	}
	return purged
}

func unknown(approvalID string) error {
	return fmt.Errorf("%w: %s", domain.ErrUnknownApproval, approvalID)
}
