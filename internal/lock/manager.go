// Package lock serializes mutating operations per stack with time-bounded
// leases kept in the credential store.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/observability"
	"github.com/bcnelson/splunk-eam/internal/storage"
)

// Manager acquires, renews and releases stack leases. Acquire never waits:
// a live lease held by anyone else fails at once with a LockBusyError.
type Manager struct {
	store      storage.Storage
	lease      time.Duration
	renewEvery time.Duration
	holder     string
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithHolder overrides the holder identity recorded on leases.
func WithHolder(holder string) Option {
	return func(m *Manager) { m.holder = holder }
}

// NewManager creates a Manager granting leases of the given duration,
// renewed every renewEvery by KeepAlive.
func NewManager(store storage.Storage, lease, renewEvery time.Duration, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		lease:      lease,
		renewEvery: renewEvery,
		holder:     DefaultHolder(),
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LeaseDuration returns the default lease length.
func (m *Manager) LeaseDuration() time.Duration { return m.lease }

// Acquire takes the lease for stackID with the default duration.
func (m *Manager) Acquire(ctx context.Context, stackID string, op domain.Operation) (*domain.Lease, error) {
	return m.AcquireFor(ctx, stackID, op, m.lease)
}

// AcquireFor takes the lease for stackID for d.
func (m *Manager) AcquireFor(ctx context.Context, stackID string, op domain.Operation, d time.Duration) (*domain.Lease, error) {
	now := m.now().UTC()
	lease := &domain.Lease{
		StackID:    stackID,
		Holder:     m.holder,
		LeaseID:    uuid.NewString(),
		Operation:  op,
		AcquiredAt: now,
		Deadline:   now.Add(d),
	}
	ok, err := m.store.AcquireLease(ctx, lease, now)
	if err != nil {
		return nil, fmt.Errorf("acquiring lease for %s: %w", stackID, err)
	}
	if !ok {
		observability.LockBusy.Inc()
		busy := &domain.LockBusyError{StackID: stackID}
		if current, err := m.store.GetLease(ctx, stackID); err == nil {
			busy.Holder = current.Holder
			busy.Deadline = current.Deadline
		}
		m.logger.Info("stack busy",
			zap.String("stack_id", stackID),
			zap.String("operation", string(op)),
			zap.String("holder", busy.Holder))
		return nil, busy
	}

	m.logger.Debug("lease acquired",
		zap.String("stack_id", stackID),
		zap.String("lease_id", lease.LeaseID),
		zap.String("operation", string(op)),
		zap.Time("deadline", lease.Deadline))
	return lease, nil
}

// Release drops the lease. Releasing an expired, released or taken-over
// lease is a no-op.
func (m *Manager) Release(ctx context.Context, lease *domain.Lease) error {
	if lease == nil {
		return nil
	}
	if err := m.store.ReleaseLease(ctx, lease.StackID, lease.LeaseID); err != nil {
		return fmt.Errorf("releasing lease for %s: %w", lease.StackID, err)
	}
	m.logger.Debug("lease released",
		zap.String("stack_id", lease.StackID),
		zap.String("lease_id", lease.LeaseID))
	return nil
}

// Renew moves the lease deadline to now+extra. It fails with
// domain.ErrLockLost when the lease has expired or changed hands.
func (m *Manager) Renew(ctx context.Context, lease *domain.Lease, extra time.Duration) error {
	now := m.now().UTC()
	deadline := now.Add(extra)
	ok, err := m.store.RenewLease(ctx, lease.StackID, lease.LeaseID, deadline, now)
	if err != nil {
		return fmt.Errorf("renewing lease for %s: %w", lease.StackID, err)
	}
	if !ok {
		return fmt.Errorf("stack %s: %w", lease.StackID, domain.ErrLockLost)
	}
	lease.Deadline = deadline
	return nil
}

// Status reports the live lease on stackID, or domain.ErrNotFound.
func (m *Manager) Status(ctx context.Context, stackID string) (*domain.LockStatus, error) {
	lease, err := m.store.GetLease(ctx, stackID)
	if err != nil {
		return nil, err
	}
	if !lease.Live(m.now()) {
		return nil, domain.ErrNotFound
	}
	return &domain.LockStatus{
		StackID:   stackID,
		Locked:    true,
		Holder:    lease.Holder,
		Operation: lease.Operation,
		Since:     lease.AcquiredAt,
		Deadline:  lease.Deadline,
	}, nil
}

// ForceRelease drops whatever lease exists on stackID.
func (m *Manager) ForceRelease(ctx context.Context, stackID string) error {
	if err := m.store.DeleteLease(ctx, stackID); err != nil {
		return fmt.Errorf("dropping lease for %s: %w", stackID, err)
	}
	return nil
}

// KeepAlive renews lease every renew interval until stop is called. The
// returned context is cancelled with domain.ErrLockLost as its cause if the
// lease is lost, so the work it guards can abort. stop waits for the renewal
// goroutine to exit.
func (m *Manager) KeepAlive(ctx context.Context, lease *domain.Lease) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	l := *lease
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := m.Renew(ctx, &l, m.lease)
				switch {
				case err == nil:
					observability.LockRenewals.WithLabelValues("ok").Inc()
				case errors.Is(err, domain.ErrLockLost):
					observability.LockRenewals.WithLabelValues("lost").Inc()
					m.logger.Error("lease lost during operation",
						zap.String("stack_id", l.StackID),
						zap.String("lease_id", l.LeaseID))
					cancel(domain.ErrLockLost)
					return
				case ctx.Err() != nil:
					return
				default:
					// Transient store errors are retried on the next tick
					// while the current deadline still holds.
					observability.LockRenewals.WithLabelValues("error").Inc()
					m.logger.Warn("lease renewal failed",
						zap.String("stack_id", l.StackID),
						zap.Error(err))
				}
			}
		}
	}()

	return ctx, func() {
		cancel(nil)
		<-done
	}
}
