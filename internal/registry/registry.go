// Package registry maintains stack definitions and their sub-resources.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/storage"
	"github.com/bcnelson/splunk-eam/internal/validation"
)

// maxUpdateAttempts bounds the read-modify-write retries on version conflicts.
const maxUpdateAttempts = 5

// LeaseDropper removes the lease on a stack. The lock manager implements it.
type LeaseDropper interface {
	ForceRelease(ctx context.Context, stackID string) error
}

// Registry is the stack registry.
type Registry struct {
	store    storage.Storage
	leases   LeaseDropper
	defaults domain.StackDefaults
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a Registry. New stacks take their Splunk settings from defaults
// unless the create request overrides them.
func New(store storage.Storage, leases LeaseDropper, defaults domain.StackDefaults, logger *zap.Logger) *Registry {
	return &Registry{
		store:    store,
		leases:   leases,
		defaults: defaults,
		now:      time.Now,
		logger:   logger,
	}
}

// Create registers a new stack.
func (r *Registry) Create(ctx context.Context, req *domain.CreateStackRequest) (*domain.Stack, error) {
	stack, err := domain.NewStack(req, r.defaults)
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	stack.CreatedAt, stack.UpdatedAt = now, now

	if err := r.store.CreateStack(ctx, stack); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: stack %s", domain.ErrAlreadyExists, stack.ID)
		}
		return nil, fmt.Errorf("creating stack %s: %w", stack.ID, err)
	}
	r.logger.Info("stack created",
		zap.String("stack_id", stack.ID),
		zap.String("deployment_type", string(stack.DeploymentType)),
		zap.Bool("shc_cluster", stack.SHCCluster))
	return stack, nil
}

// Get returns the complete stack, secrets included. Callers that expose it
// must use Redacted.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Stack, error) {
	stack, err := r.store.GetStack(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: stack %s", domain.ErrNotFound, id)
	}
	return stack, err
}

// List returns every stack, redacted, keyed by stack id.
func (r *Registry) List(ctx context.Context) (map[string]*domain.Stack, error) {
	stacks, err := r.store.ListStacks(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.Stack, len(stacks))
	for _, s := range stacks {
		out[s.ID] = s.Redacted()
	}
	return out, nil
}

// Delete removes the stack with its sub-records and drops any lease on it.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteStack(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: stack %s", domain.ErrNotFound, id)
		}
		return fmt.Errorf("deleting stack %s: %w", id, err)
	}
	if err := r.leases.ForceRelease(ctx, id); err != nil {
		r.logger.Warn("dropping lease of deleted stack failed", zap.String("stack_id", id), zap.Error(err))
	}
	r.logger.Info("stack deleted", zap.String("stack_id", id))
	return nil
}

// SetInventory replaces the stack inventory.
func (r *Registry) SetInventory(ctx context.Context, id string, inv domain.Inventory) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	_, err := r.update(ctx, id, func(s *domain.Stack) error {
		s.Inventory = inv.Clone()
		s.HasInventory = true
		return nil
	})
	if err == nil {
		r.logger.Info("inventory set", zap.String("stack_id", id), zap.Int("hosts", len(inv.Hosts())))
	}
	return err
}

// GetInventory returns the stack inventory.
func (r *Registry) GetInventory(ctx context.Context, id string) (domain.Inventory, error) {
	stack, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !stack.HasInventory {
		return nil, fmt.Errorf("%w: stack %s has no inventory", domain.ErrNotFound, id)
	}
	return stack.Inventory, nil
}

// SetSSHKey decodes and stores the stack's ssh private key.
func (r *Registry) SetSSHKey(ctx context.Context, id, keyB64 string) error {
	key, err := validation.DecodeSSHKey(keyB64)
	if err != nil {
		return validation.Invalid("ssh_key_b64", err.Error())
	}
	_, err = r.update(ctx, id, func(s *domain.Stack) error {
		s.SSHKey = key
		s.HasSSHKey = true
		return nil
	})
	if err == nil {
		r.logger.Info("ssh key set", zap.String("stack_id", id))
	}
	return err
}

// PrepareIndex applies defaults to idx and checks it against the stack
// without writing anything.
func PrepareIndex(stack *domain.Stack, idx domain.Index) (domain.Index, error) {
	idx = idx.WithDefaults()
	if err := idx.Validate(); err != nil {
		return idx, err
	}
	if stack.FindIndex(idx.Name) >= 0 {
		return idx, fmt.Errorf("%w: index %q on stack %s", domain.ErrAlreadyExists, idx.Name, stack.ID)
	}
	return idx, nil
}

// AddIndex records a new index on the stack.
func (r *Registry) AddIndex(ctx context.Context, id string, idx domain.Index) (domain.Index, error) {
	var added domain.Index
	_, err := r.update(ctx, id, func(s *domain.Stack) error {
		prepared, err := PrepareIndex(s, idx)
		if err != nil {
			return err
		}
		added = prepared
		s.Indexes = append(s.Indexes, prepared)
		return nil
	})
	if err != nil {
		return domain.Index{}, err
	}
	r.logger.Info("index added", zap.String("stack_id", id), zap.String("index", added.Name))
	return added, nil
}

// RemoveIndex deletes the named index from the stack.
func (r *Registry) RemoveIndex(ctx context.Context, id, name string) error {
	_, err := r.update(ctx, id, func(s *domain.Stack) error {
		i := s.FindIndex(name)
		if i < 0 {
			return fmt.Errorf("%w: index %q on stack %s", domain.ErrNotFound, name, id)
		}
		s.Indexes = slices.Delete(s.Indexes, i, i+1)
		return nil
	})
	if err == nil {
		r.logger.Info("index removed", zap.String("stack_id", id), zap.String("index", name))
	}
	return err
}

// PrepareApp resolves the install target of app and checks it against the
// stack without writing anything.
func PrepareApp(stack *domain.Stack, app domain.App) (domain.App, error) {
	topo := stack.Topology()
	app = app.WithTarget(topo)
	if err := app.Validate(); err != nil {
		return app, err
	}
	if app.InstallTarget == domain.InstallSHCDeployer && topo.Kind() != domain.KindDistributedSHC {
		return app, fmt.Errorf("%w: install_target shc_deployer requires an SHC stack", domain.ErrPreconditionFailed)
	}
	if stack.FindApp(app.Name) >= 0 {
		return app, fmt.Errorf("%w: app %q on stack %s", domain.ErrAlreadyExists, app.Name, stack.ID)
	}
	return app, nil
}

// AddApp records a new app on the stack.
func (r *Registry) AddApp(ctx context.Context, id string, app domain.App) (domain.App, error) {
	var added domain.App
	_, err := r.update(ctx, id, func(s *domain.Stack) error {
		prepared, err := PrepareApp(s, app)
		if err != nil {
			return err
		}
		added = prepared
		s.Apps = append(s.Apps, prepared)
		return nil
	})
	if err != nil {
		return domain.App{}, err
	}
	r.logger.Info("app added", zap.String("stack_id", id), zap.String("app", added.Name))
	return added, nil
}

// RemoveApp deletes the named app from the stack.
func (r *Registry) RemoveApp(ctx context.Context, id, name string) error {
	_, err := r.update(ctx, id, func(s *domain.Stack) error {
		i := s.FindApp(name)
		if i < 0 {
			return fmt.Errorf("%w: app %q on stack %s", domain.ErrNotFound, name, id)
		}
		s.Apps = slices.Delete(s.Apps, i, i+1)
		return nil
	})
	if err == nil {
		r.logger.Info("app removed", zap.String("stack_id", id), zap.String("app", name))
	}
	return err
}

// update applies fn to a fresh copy of the stack and writes it back,
// retrying when a concurrent writer bumped the version first. An error from
// fn aborts without writing.
func (r *Registry) update(ctx context.Context, id string, fn func(*domain.Stack) error) (*domain.Stack, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		stack, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(stack); err != nil {
			return nil, err
		}
		stack.UpdatedAt = r.now().UTC()

		err = r.store.UpdateStack(ctx, stack)
		switch {
		case err == nil:
			return stack, nil
		case errors.Is(err, domain.ErrConflict):
			r.logger.Debug("stack version conflict, retrying", zap.String("stack_id", id), zap.Int("attempt", attempt+1))
			continue
		case errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("%w: stack %s", domain.ErrNotFound, id)
		default:
			return nil, fmt.Errorf("updating stack %s: %w", id, err)
		}
	}
	return nil, fmt.Errorf("%w: stack %s changed concurrently, giving up after %d attempts", domain.ErrConflict, id, maxUpdateAttempts)
}
