// Package dispatch runs automation-backed operations against stacks. Every
// run holds the stack's lease for its whole duration and releases it on all
// exit paths.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bcnelson/splunk-eam/internal/automation"
	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/observability"
	"github.com/bcnelson/splunk-eam/internal/registry"
	"github.com/bcnelson/splunk-eam/internal/validation"
)

// Locker serializes operations per stack. The lock manager implements it.
type Locker interface {
	Acquire(ctx context.Context, stackID string, op domain.Operation) (*domain.Lease, error)
	Release(ctx context.Context, lease *domain.Lease) error
	KeepAlive(ctx context.Context, lease *domain.Lease) (context.Context, func())
}

// Dispatcher is the operation dispatcher.
type Dispatcher struct {
	registry *registry.Registry
	locks    Locker
	backend  automation.Backend
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(reg *registry.Registry, locks Locker, backend automation.Backend, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		locks:    locks,
		backend:  backend,
		now:      time.Now,
		logger:   logger,
	}
}

// RunNamed runs one of the named operations against the stack.
func (d *Dispatcher) RunNamed(ctx context.Context, stackID string, op domain.Operation, req *domain.OperationRequest) (*domain.OperationResponse, error) {
	if _, ok := domain.ParseNamedOperation(string(op)); !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", domain.ErrNotFound, op)
	}
	if req == nil {
		req = &domain.OperationRequest{}
	}
	if op.NeedsSplunkCredentials() {
		if err := checkCredentials(req.SplunkCredentials); err != nil {
			return nil, err
		}
	}

	plan := func(stack *domain.Stack) (targets []string, vars map[string]any, err error) {
		targets, err = namedTargets(stack, op, req)
		if err != nil {
			return nil, nil, err
		}
		vars = stackVars(stack, op, req.SplunkCredentials)
		switch op {
		case domain.OpSHCSetHTTPMaxContent:
			vars["http_max_content_length"] = req.HTTPMaxContentLength
		case domain.OpApplySHCBundle:
			vars["shc_target_uri"] = shcTargetURI(stack)
		}
		return targets, vars, nil
	}

	stack, err := d.registry.Get(ctx, stackID)
	if err != nil {
		return nil, err
	}
	if _, _, err := plan(stack); err != nil {
		return nil, err
	}

	var resp *domain.OperationResponse
	err = d.withLease(ctx, stackID, op, func(ctx context.Context, stack *domain.Stack) error {
		targets, vars, err := plan(stack)
		if err != nil {
			return err
		}
		if err := checkReady(stack, targets); err != nil {
			return err
		}
		res, _ := d.run(ctx, stack, op, targets, vars)
		resp = singleResponse(stackID, nil, res, nil)
		return nil
	})
	return resp, err
}

// CreateIndex creates an index on the stack's hosts, records it, then
// applies the bundles the request asks for.
func (d *Dispatcher) CreateIndex(ctx context.Context, stackID string, req *domain.CreateIndexRequest) (*domain.OperationResponse, error) {
	if err := checkCredentials(req.SplunkCredentials); err != nil {
		return nil, err
	}
	stack, err := d.registry.Get(ctx, stackID)
	if err != nil {
		return nil, err
	}
	if _, err := registry.PrepareIndex(stack, req.Index); err != nil {
		return nil, err
	}

	var resp *domain.OperationResponse
	err = d.withLease(ctx, stackID, domain.OpCreateIndex, func(ctx context.Context, stack *domain.Stack) error {
		idx, err := registry.PrepareIndex(stack, req.Index)
		if err != nil {
			return err
		}
		targets := indexTargets(stack)
		if err := checkReady(stack, targets); err != nil {
			return err
		}
		res, runErr := d.run(ctx, stack, domain.OpCreateIndex, targets, indexVars(stack, idx, req.SplunkCredentials))
		if runErr != nil {
			resp = singleResponse(stackID, idx, res, nil)
			return nil
		}
		if idx, err = d.registry.AddIndex(ctx, stackID, idx); err != nil {
			return err
		}
		bundles := d.applyBundles(ctx, stack, req.BundleOptions, req.SplunkCredentials)
		resp = singleResponse(stackID, idx, res, bundles)
		return nil
	})
	return resp, err
}

// RemoveIndex removes an index from the stack's hosts and the stack record.
func (d *Dispatcher) RemoveIndex(ctx context.Context, stackID, name string, req *domain.RemoveItemRequest) (*domain.OperationResponse, error) {
	if err := checkCredentials(req.SplunkCredentials); err != nil {
		return nil, err
	}
	stack, err := d.registry.Get(ctx, stackID)
	if err != nil {
		return nil, err
	}
	if stack.FindIndex(name) < 0 {
		return nil, fmt.Errorf("%w: index %q on stack %s", domain.ErrNotFound, name, stackID)
	}

	var resp *domain.OperationResponse
	err = d.withLease(ctx, stackID, domain.OpRemoveIndex, func(ctx context.Context, stack *domain.Stack) error {
		i := stack.FindIndex(name)
		if i < 0 {
			return fmt.Errorf("%w: index %q on stack %s", domain.ErrNotFound, name, stackID)
		}
		idx := stack.Indexes[i]
		targets := indexTargets(stack)
		if err := checkReady(stack, targets); err != nil {
			return err
		}
		res, runErr := d.run(ctx, stack, domain.OpRemoveIndex, targets, indexVars(stack, idx, req.SplunkCredentials))
		if runErr != nil {
			resp = singleResponse(stackID, idx, res, nil)
			return nil
		}
		if err := d.registry.RemoveIndex(ctx, stackID, name); err != nil {
			return err
		}
		bundles := d.applyBundles(ctx, stack, req.BundleOptions, req.SplunkCredentials)
		resp = singleResponse(stackID, idx, res, bundles)
		return nil
	})
	return resp, err
}

// CreateIndexes creates every index in the batch under one lease and applies
// the bundles once at the end. Item failures are collected, not returned.
func (d *Dispatcher) CreateIndexes(ctx context.Context, stackID string, req *domain.BatchIndexesRequest) (*domain.BatchResponse[domain.Index], error) {
	if len(req.Indexes) == 0 {
		return nil, validation.Invalid("indexes", "must contain at least one index")
	}
	if err := checkCredentials(req.SplunkCredentials); err != nil {
		return nil, err
	}
	if _, err := d.registry.Get(ctx, stackID); err != nil {
		return nil, err
	}

	var resp *domain.BatchResponse[domain.Index]
	err := d.withLease(ctx, stackID, domain.OpCreateIndex, func(ctx context.Context, stack *domain.Stack) error {
		targets := indexTargets(stack)
		if err := checkReady(stack, targets); err != nil {
			return err
		}
		result := Collect(ctx, req.Indexes, func(ctx context.Context, idx domain.Index) (domain.Index, error) {
			idx, err := registry.PrepareIndex(stack, idx)
			if err != nil {
				return idx, err
			}
			if _, err := d.run(ctx, stack, domain.OpCreateIndex, targets, indexVars(stack, idx, req.SplunkCredentials)); err != nil {
				return idx, err
			}
			if idx, err = d.registry.AddIndex(ctx, stackID, idx); err != nil {
				return idx, err
			}
			stack.Indexes = append(stack.Indexes, idx)
			return idx, nil
		})
		countItems("index", result)

		var bundles []domain.OperationResult
		if len(result.Succeeded) > 0 {
			bundles = d.applyBundles(ctx, stack, req.BundleOptions, req.SplunkCredentials)
		}
		resp = batchResponse(stackID, result, bundles)
		return nil
	})
	return resp, err
}

// InstallApp installs an app, records it, then applies the bundles the
// request asks for.
func (d *Dispatcher) InstallApp(ctx context.Context, stackID string, req *domain.InstallAppRequest) (*domain.OperationResponse, error) {
	if err := checkCredentials(req.SplunkCredentials); err != nil {
		return nil, err
	}
	stack, err := d.registry.Get(ctx, stackID)
	if err != nil {
		return nil, err
	}
	if _, err := registry.PrepareApp(stack, req.App); err != nil {
		return nil, err
	}

	var resp *domain.OperationResponse
	err = d.withLease(ctx, stackID, domain.OpInstallApp, func(ctx context.Context, stack *domain.Stack) error {
		app, err := registry.PrepareApp(stack, req.App)
		if err != nil {
			return err
		}
		targets := appTargets(stack, app)
		if err := checkReady(stack, targets); err != nil {
			return err
		}
		vars := appVars(stack, app, req.SplunkCredentials, req.SplunkbaseCredentials)
		res, runErr := d.run(ctx, stack, domain.OpInstallApp, targets, vars)
		if runErr != nil {
			resp = singleResponse(stackID, app, res, nil)
			return nil
		}
		if app, err = d.registry.AddApp(ctx, stackID, app); err != nil {
			return err
		}
		bundles := d.applyBundles(ctx, stack, req.BundleOptions, req.SplunkCredentials)
		resp = singleResponse(stackID, app, res, bundles)
		return nil
	})
	return resp, err
}

// RemoveApp removes an app from its install target and the stack record.
func (d *Dispatcher) RemoveApp(ctx context.Context, stackID, name string, req *domain.RemoveItemRequest) (*domain.OperationResponse, error) {
	if err := checkCredentials(req.SplunkCredentials); err != nil {
		return nil, err
	}
	stack, err := d.registry.Get(ctx, stackID)
	if err != nil {
		return nil, err
	}
	if stack.FindApp(name) < 0 {
		return nil, fmt.Errorf("%w: app %q on stack %s", domain.ErrNotFound, name, stackID)
	}

	var resp *domain.OperationResponse
	err = d.withLease(ctx, stackID, domain.OpRemoveApp, func(ctx context.Context, stack *domain.Stack) error {
		i := stack.FindApp(name)
		if i < 0 {
			return fmt.Errorf("%w: app %q on stack %s", domain.ErrNotFound, name, stackID)
		}
		app := stack.Apps[i]
		targets := appTargets(stack, app)
		if err := checkReady(stack, targets); err != nil {
			return err
		}
		vars := appVars(stack, app, req.SplunkCredentials, req.SplunkbaseCredentials)
		res, runErr := d.run(ctx, stack, domain.OpRemoveApp, targets, vars)
		if runErr != nil {
			resp = singleResponse(stackID, app, res, nil)
			return nil
		}
		if err := d.registry.RemoveApp(ctx, stackID, name); err != nil {
			return err
		}
		bundles := d.applyBundles(ctx, stack, req.BundleOptions, req.SplunkCredentials)
		resp = singleResponse(stackID, app, res, bundles)
		return nil
	})
	return resp, err
}

// InstallApps installs every app in the batch under one lease and applies
// the bundles once at the end.
func (d *Dispatcher) InstallApps(ctx context.Context, stackID string, req *domain.BatchAppsRequest) (*domain.BatchResponse[domain.App], error) {
	if len(req.Apps) == 0 {
		return nil, validation.Invalid("apps", "must contain at least one app")
	}
	if err := checkCredentials(req.SplunkCredentials); err != nil {
		return nil, err
	}
	if _, err := d.registry.Get(ctx, stackID); err != nil {
		return nil, err
	}

	var resp *domain.BatchResponse[domain.App]
	err := d.withLease(ctx, stackID, domain.OpInstallApp, func(ctx context.Context, stack *domain.Stack) error {
		if err := checkReady(stack, nil); err != nil {
			return err
		}
		result := Collect(ctx, req.Apps, func(ctx context.Context, app domain.App) (domain.App, error) {
			app, err := registry.PrepareApp(stack, app)
			if err != nil {
				return app, err
			}
			targets := appTargets(stack, app)
			if err := checkReady(stack, targets); err != nil {
				return app, err
			}
			vars := appVars(stack, app, req.SplunkCredentials, req.SplunkbaseCredentials)
			if _, err := d.run(ctx, stack, domain.OpInstallApp, targets, vars); err != nil {
				return app, err
			}
			if app, err = d.registry.AddApp(ctx, stackID, app); err != nil {
				return app, err
			}
			stack.Apps = append(stack.Apps, app)
			return app, nil
		})
		countItems("app", result)

		var bundles []domain.OperationResult
		if len(result.Succeeded) > 0 {
			bundles = d.applyBundles(ctx, stack, req.BundleOptions, req.SplunkCredentials)
		}
		resp = batchResponse(stackID, result, bundles)
		return nil
	})
	return resp, err
}

// withLease runs fn on a fresh read of the stack while holding its lease.
// The work is detached from ctx's cancellation so a dropped client does not
// abort a half-applied remote change; it still ends if the lease is lost.
func (d *Dispatcher) withLease(ctx context.Context, stackID string, op domain.Operation, fn func(context.Context, *domain.Stack) error) error {
	base := context.WithoutCancel(ctx)
	lease, err := d.locks.Acquire(base, stackID, op)
	if err != nil {
		return err
	}
	work, stop := d.locks.KeepAlive(base, lease)
	defer func() {
		stop()
		if err := d.locks.Release(base, lease); err != nil {
			d.logger.Error("releasing lease failed",
				zap.String("stack_id", stackID),
				zap.String("operation", string(op)),
				zap.Error(err))
		}
	}()

	stack, err := d.registry.Get(work, stackID)
	if err != nil {
		return err
	}
	return fn(work, stack)
}

// run invokes the backend once and turns the outcome into an operation
// result. A non-nil error is an *domain.AutomationError.
func (d *Dispatcher) run(ctx context.Context, stack *domain.Stack, op domain.Operation, targets []string, vars map[string]any) (domain.OperationResult, error) {
	res := domain.OperationResult{Operation: op, StartedAt: d.now().UTC(), Hosts: []domain.HostResult{}}
	logger := d.logger.With(zap.String("stack_id", stack.ID), zap.String("operation", string(op)))
	logger.Info("operation started", zap.Strings("targets", targets))

	out, err := d.backend.Run(ctx, &automation.Request{
		Operation: op,
		StackID:   stack.ID,
		Inventory: stack.Inventory,
		SSHKey:    stack.SSHKey,
		Targets:   targets,
		Vars:      vars,
	})
	res.FinishedAt = d.now().UTC()
	observability.OperationDuration.WithLabelValues(string(op)).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())

	var reason string
	switch {
	case err != nil:
		reason = err.Error()
	case out == nil || len(out.Hosts) == 0:
		reason = "backend reported no hosts"
	case !out.Succeeded():
		reason = "failed on " + strings.Join(out.FailedHosts(), ", ")
	}
	if out != nil && out.Hosts != nil {
		res.Hosts = out.Hosts
	}
	if reason != "" {
		res.Error = reason
		observability.Operations.WithLabelValues(string(op), "failed").Inc()
		logger.Warn("operation failed", zap.String("reason", reason))
		return res, &domain.AutomationError{Operation: op, StackID: stack.ID, Reason: reason, Hosts: res.Hosts}
	}

	res.Success = true
	observability.Operations.WithLabelValues(string(op), "succeeded").Inc()
	logger.Info("operation succeeded", zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
	return res, nil
}

// applyBundles pushes the cluster and SHC bundles the topology has and the
// options allow. A failing bundle does not stop the other.
func (d *Dispatcher) applyBundles(ctx context.Context, stack *domain.Stack, opts domain.BundleOptions, creds domain.SplunkCredentials) []domain.OperationResult {
	var results []domain.OperationResult
	topo := stack.Topology()

	if cm, ok := domain.ClusterManagerOf(topo); ok && opts.ClusterBundle() {
		res, _ := d.bundle(ctx, stack, domain.OpApplyClusterBundle, []string{cm}, creds)
		results = append(results, res)
	}
	if shc, ok := topo.(domain.DistributedSHC); ok && opts.SHCBundle() {
		res, _ := d.bundle(ctx, stack, domain.OpApplySHCBundle, []string{shc.Deployer}, creds)
		results = append(results, res)
	}
	return results
}

func (d *Dispatcher) bundle(ctx context.Context, stack *domain.Stack, op domain.Operation, targets []string, creds domain.SplunkCredentials) (domain.OperationResult, error) {
	if err := checkReady(stack, targets); err != nil {
		now := d.now().UTC()
		return domain.OperationResult{Operation: op, Error: err.Error(), Hosts: []domain.HostResult{}, StartedAt: now, FinishedAt: now}, err
	}
	vars := stackVars(stack, op, creds)
	if op == domain.OpApplySHCBundle {
		vars["shc_target_uri"] = shcTargetURI(stack)
	}
	return d.run(ctx, stack, op, targets, vars)
}

func singleResponse(stackID string, item any, main domain.OperationResult, bundles []domain.OperationResult) *domain.OperationResponse {
	resp := &domain.OperationResponse{
		StackID:    stackID,
		Status:     domain.StatusSucceeded,
		Item:       item,
		Operations: append([]domain.OperationResult{main}, bundles...),
	}
	if !main.Success {
		resp.Status = domain.StatusFailed
		return resp
	}
	for _, b := range bundles {
		if !b.Success {
			resp.Status = domain.StatusPartial
		}
	}
	return resp
}

func batchResponse[T any](stackID string, result domain.BatchResult[T], bundles []domain.OperationResult) *domain.BatchResponse[T] {
	status := result.Status()
	if status == domain.StatusSucceeded {
		for _, b := range bundles {
			if !b.Success {
				status = domain.StatusPartial
			}
		}
	}
	if bundles == nil {
		bundles = []domain.OperationResult{}
	}
	return &domain.BatchResponse[T]{StackID: stackID, Status: status, BatchResult: result, Bundles: bundles}
}

func countItems[T any](kind string, result domain.BatchResult[T]) {
	observability.BatchItems.WithLabelValues(kind, "succeeded").Add(float64(len(result.Succeeded)))
	observability.BatchItems.WithLabelValues(kind, "failed").Add(float64(len(result.Failed)))
}

func checkCredentials(creds domain.SplunkCredentials) error {
	var errs validation.ValidationErrors
	if creds.Username == "" {
		errs.Add("splunk_username", "", "required")
	}
	if creds.Password == "" {
		errs.Add("splunk_password", "", "required")
	}
	return errs.Err()
}

// checkReady verifies the stack can be reached: it needs an inventory and an
// ssh key, and every target host must be in the inventory.
func checkReady(stack *domain.Stack, targets []string) error {
	if !stack.HasInventory {
		return fmt.Errorf("%w: stack %s has no inventory", domain.ErrPreconditionFailed, stack.ID)
	}
	if !stack.HasSSHKey {
		return fmt.Errorf("%w: stack %s has no ssh key", domain.ErrPreconditionFailed, stack.ID)
	}
	var missing []string
	for _, h := range targets {
		if !stack.Inventory.HasHost(h) {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: hosts not in inventory of stack %s: %s",
			domain.ErrPreconditionFailed, stack.ID, strings.Join(missing, ", "))
	}
	return nil
}

var errNeedsDistributed = errors.New("requires a distributed stack")
var errNeedsSHC = errors.New("requires a search head cluster")

// namedTargets resolves the hosts a named operation runs on. Nil means every
// inventory host.
func namedTargets(stack *domain.Stack, op domain.Operation, req *domain.OperationRequest) ([]string, error) {
	topo := stack.Topology()
	shc, isSHC := topo.(domain.DistributedSHC)
	precondition := func(err error) error {
		return fmt.Errorf("%w: %s %v", domain.ErrPreconditionFailed, op, err)
	}

	switch op {
	case domain.OpAnsibleTest:
		return nil, nil
	case domain.OpRestartSplunk:
		return parseLimit(req.Limit), nil
	case domain.OpClusterRollingRestart, domain.OpApplyClusterBundle:
		cm, ok := domain.ClusterManagerOf(topo)
		if !ok {
			return nil, precondition(errNeedsDistributed)
		}
		return []string{cm}, nil
	case domain.OpSHCRollingRestart:
		if !isSHC {
			return nil, precondition(errNeedsSHC)
		}
		return shc.Members[:1], nil
	case domain.OpApplySHCBundle:
		if !isSHC {
			return nil, precondition(errNeedsSHC)
		}
		return []string{shc.Deployer}, nil
	case domain.OpSHCSetHTTPMaxContent:
		if !isSHC {
			return nil, precondition(errNeedsSHC)
		}
		if req.HTTPMaxContentLength <= 0 {
			return nil, validation.ValidationErrors{{
				Field:   "http_max_content_length",
				Value:   fmt.Sprint(req.HTTPMaxContentLength),
				Message: "must be greater than 0",
			}}
		}
		return shc.Members, nil
	}
	return nil, fmt.Errorf("%w: unknown operation %q", domain.ErrNotFound, op)
}

func parseLimit(limit string) []string {
	var hosts []string
	for _, h := range strings.Split(limit, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// indexTargets: indexes are pushed through the cluster manager when there is
// one, otherwise to every host.
func indexTargets(stack *domain.Stack) []string {
	if cm, ok := domain.ClusterManagerOf(stack.Topology()); ok {
		return []string{cm}
	}
	return nil
}

func appTargets(stack *domain.Stack, app domain.App) []string {
	if app.InstallTarget == domain.InstallSHCDeployer {
		if shc, ok := stack.Topology().(domain.DistributedSHC); ok {
			return []string{shc.Deployer}
		}
	}
	return nil
}

func shcTargetURI(stack *domain.Stack) string {
	shc, ok := stack.Topology().(domain.DistributedSHC)
	if !ok || len(shc.Members) == 0 {
		return ""
	}
	return fmt.Sprintf("https://%s:%d", shc.Members[0], stack.SplunkdPort)
}

func stackVars(stack *domain.Stack, op domain.Operation, creds domain.SplunkCredentials) map[string]any {
	vars := map[string]any{
		"stack_id":     stack.ID,
		"splunk_home":  stack.SplunkHome,
		"splunkd_port": stack.SplunkdPort,
		"splunk_user":  stack.SplunkUser,
		"splunk_group": stack.SplunkGroup,
	}
	if op.NeedsSplunkCredentials() {
		vars["splunk_username"] = creds.Username
		vars["splunk_password"] = creds.Password
	}
	return vars
}

func indexVars(stack *domain.Stack, idx domain.Index, creds domain.SplunkCredentials) map[string]any {
	vars := stackVars(stack, domain.OpCreateIndex, creds)
	vars["index_name"] = idx.Name
	vars["max_data_size_mb"] = idx.MaxDataSizeMB
	vars["datatype"] = string(idx.DataType)
	return vars
}

func appVars(stack *domain.Stack, app domain.App, creds domain.SplunkCredentials, sb domain.SplunkbaseCredentials) map[string]any {
	vars := stackVars(stack, domain.OpInstallApp, creds)
	vars["splunkbase_app_name"] = app.Name
	vars["splunkbase_app_id"] = app.SourceID
	vars["app_version"] = app.Version
	vars["install_target"] = string(app.InstallTarget)
	vars["splunkbase_username"] = sb.Username
	vars["splunkbase_password"] = sb.Password
	return vars
}
