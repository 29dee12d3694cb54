package storage

import (
	"context"
	"time"

	"github.com/bcnelson/splunk-eam/internal/domain"
)

// Storage defines the interface for the credential store.
// Implementations must be safe for concurrent use. Every method touches a
// single key, so no implementation needs multi-key transactions.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// Stacks. Records are versioned: CreateStack sets Version to 1 and
	// UpdateStack only succeeds when the stored version equals stack.Version,
	// incrementing it on success and returning domain.ErrConflict otherwise.
	CreateStack(ctx context.Context, stack *domain.Stack) error
	GetStack(ctx context.Context, id string) (*domain.Stack, error)
	ListStacks(ctx context.Context) ([]*domain.Stack, error)
	UpdateStack(ctx context.Context, stack *domain.Stack) error
	DeleteStack(ctx context.Context, id string) error

	// Tokens, keyed by the hash of the bearer value. DeleteToken is idempotent.
	CreateToken(ctx context.Context, token *domain.Token) error
	GetToken(ctx context.Context, id string) (*domain.Token, error)
	DeleteToken(ctx context.Context, id string) error

	// Root credential. InitRootCredential stores cred only if none exists
	// and reports whether it did.
	GetRootCredential(ctx context.Context) (*domain.RootCredential, error)
	InitRootCredential(ctx context.Context, cred *domain.RootCredential) (bool, error)
	PutRootCredential(ctx context.Context, cred *domain.RootCredential) error

	// Leases, keyed by stack id. AcquireLease succeeds if no lease exists or
	// the existing one is past its deadline at now. RenewLease and
	// ReleaseLease only act on the lease with the given lease id.
	AcquireLease(ctx context.Context, lease *domain.Lease, now time.Time) (bool, error)
	RenewLease(ctx context.Context, stackID, leaseID string, deadline, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, stackID, leaseID string) error
	GetLease(ctx context.Context, stackID string) (*domain.Lease, error)
	DeleteLease(ctx context.Context, stackID string) error

	// PurgeExpired physically removes tokens and leases that expired before
	// now and returns how many records were removed. Stores with native
	// expiry may return zero.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
