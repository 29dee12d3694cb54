package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/lock"
	"github.com/bcnelson/splunk-eam/internal/storage/memory"
	"github.com/bcnelson/splunk-eam/internal/validation"
)

func newTestRegistry(t *testing.T) (*Registry, *lock.Manager) {
	t.Helper()
	store := memory.New()
	locks := lock.NewManager(store, time.Minute, 20*time.Second, zap.NewNop())
	return New(store, locks, domain.DefaultStackDefaults(), zap.NewNop()), locks
}

func standalone(id string) *domain.CreateStackRequest {
	return &domain.CreateStackRequest{StackID: id, DeploymentType: domain.DeploymentStandalone}
}

func shc(id string) *domain.CreateStackRequest {
	return &domain.CreateStackRequest{
		StackID:            id,
		DeploymentType:     domain.DeploymentDistributed,
		ClusterManagerNode: "cm1",
		SHCCluster:         true,
		SHCDeployerNode:    "dep1",
		SHCMembers:         []string{"sh1", "sh2"},
	}
}

func TestCreateGetDelete(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, standalone("s1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, err := r.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SplunkdPort != 8089 || got.SplunkHome != "/opt/splunk" || got.SplunkUser != "splunk" || got.SplunkGroup != "splunk" {
		t.Errorf("defaults not stored: %+v", got)
	}

	if err := r.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := r.Get(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := r.Delete(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Delete() of missing stack error = %v, want ErrNotFound", err)
	}
}

func TestCreateUniqueness(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, shc("s1")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx, standalone("s1")); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate Create() error = %v, want ErrAlreadyExists", err)
	}
	got, _ := r.Get(ctx, "s1")
	if got.DeploymentType != domain.DeploymentDistributed || !got.SHCCluster {
		t.Errorf("original record changed: %+v", got)
	}
}

func TestCreateValidation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *domain.CreateStackRequest
	}{
		{"distributed without cluster manager", &domain.CreateStackRequest{StackID: "d", DeploymentType: domain.DeploymentDistributed}},
		{"shc without deployer", &domain.CreateStackRequest{StackID: "d", DeploymentType: domain.DeploymentDistributed, ClusterManagerNode: "cm", SHCCluster: true, SHCMembers: []string{"a"}}},
		{"shc with empty members", &domain.CreateStackRequest{StackID: "d", DeploymentType: domain.DeploymentDistributed, ClusterManagerNode: "cm", SHCCluster: true, SHCDeployerNode: "dep"}},
		{"bad stack id", &domain.CreateStackRequest{StackID: "a b", DeploymentType: domain.DeploymentStandalone}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var verrs validation.ValidationErrors
			if _, err := r.Create(ctx, tt.req); !errors.As(err, &verrs) {
				t.Errorf("Create() error = %v, want ValidationErrors", err)
			}
		})
	}
	if list, _ := r.List(ctx); len(list) != 0 {
		t.Errorf("failed creates left %d stacks behind", len(list))
	}
}

func TestDeleteDropsLease(t *testing.T) {
	r, locks := newTestRegistry(t)
	ctx := context.Background()

	_, _ = r.Create(ctx, standalone("s1"))
	if _, err := locks.Acquire(ctx, "s1", domain.OpRestartSplunk); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := locks.Status(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("lease survived stack deletion: %v", err)
	}
}

func TestListRedacts(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, _ = r.Create(ctx, standalone("s1"))
	_, _ = r.Create(ctx, standalone("s2"))
	if err := r.SetSSHKey(ctx, "s1", base64.StdEncoding.EncodeToString([]byte("private"))); err != nil {
		t.Fatal(err)
	}

	list, err := r.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("List() returned %d stacks", len(list))
	}
	if list["s1"].SSHKey != nil || !list["s1"].HasSSHKey {
		t.Errorf("s1 not redacted: %+v", list["s1"])
	}
}

func TestSSHKey(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, _ = r.Create(ctx, standalone("s1"))

	var verrs validation.ValidationErrors
	if err := r.SetSSHKey(ctx, "s1", "%%%not-base64"); !errors.As(err, &verrs) {
		t.Errorf("SetSSHKey() malformed error = %v, want ValidationErrors", err)
	}
	if err := r.SetSSHKey(ctx, "missing", base64.StdEncoding.EncodeToString([]byte("k"))); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("SetSSHKey() on missing stack error = %v", err)
	}
	if err := r.SetSSHKey(ctx, "s1", base64.StdEncoding.EncodeToString([]byte("k"))); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(ctx, "s1")
	if string(got.SSHKey) != "k" {
		t.Errorf("SSHKey = %q", got.SSHKey)
	}
}

func TestInventory(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, _ = r.Create(ctx, standalone("s1"))

	if _, err := r.GetInventory(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetInventory() before set error = %v, want ErrNotFound", err)
	}

	inv := domain.Inventory{"all": {Hosts: map[string]domain.HostVars{"h1": {"ansible_host": "10.0.0.1"}}}}
	if err := r.SetInventory(ctx, "s1", inv); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetInventory(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got["all"].Hosts["h1"]["ansible_host"] != "10.0.0.1" {
		t.Errorf("GetInventory() = %+v", got)
	}

	replacement := domain.Inventory{"indexers": {Hosts: map[string]domain.HostVars{"idx1": {}}}}
	if err := r.SetInventory(ctx, "s1", replacement); err != nil {
		t.Fatal(err)
	}
	got, _ = r.GetInventory(ctx, "s1")
	if _, ok := got["all"]; ok {
		t.Error("SetInventory() must replace, not merge")
	}

	var verrs validation.ValidationErrors
	if err := r.SetInventory(ctx, "s1", domain.Inventory{}); !errors.As(err, &verrs) {
		t.Errorf("empty inventory error = %v, want ValidationErrors", err)
	}
}

func TestIndexes(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, _ = r.Create(ctx, standalone("s1"))

	idx, err := r.AddIndex(ctx, "s1", domain.Index{Name: "web"})
	if err != nil {
		t.Fatalf("AddIndex() error = %v", err)
	}
	if idx.MaxDataSizeMB != 500000 || idx.DataType != domain.DataTypeEvent {
		t.Errorf("defaults not applied: %+v", idx)
	}
	if _, err := r.AddIndex(ctx, "s1", domain.Index{Name: "web", DataType: domain.DataTypeMetric}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate AddIndex() error = %v, want ErrAlreadyExists", err)
	}
	var verrs validation.ValidationErrors
	if _, err := r.AddIndex(ctx, "s1", domain.Index{Name: "logs", DataType: "bogus"}); !errors.As(err, &verrs) {
		t.Errorf("bad datatype AddIndex() error = %v, want ValidationErrors", err)
	}

	if err := r.RemoveIndex(ctx, "s1", "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("RemoveIndex() missing error = %v, want ErrNotFound", err)
	}
	if err := r.RemoveIndex(ctx, "s1", "web"); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(ctx, "s1")
	if len(got.Indexes) != 0 {
		t.Errorf("Indexes = %+v", got.Indexes)
	}
}

func TestConcurrentIndexAdds(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, _ = r.Create(ctx, standalone("s1"))

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.AddIndex(ctx, "s1", domain.Index{Name: fmt.Sprintf("idx%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("AddIndex() error = %v", err)
		}
	}
	got, _ := r.Get(ctx, "s1")
	if len(got.Indexes) != 4 {
		t.Errorf("lost updates: %d indexes, want 4", len(got.Indexes))
	}
}

func TestApps(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, _ = r.Create(ctx, standalone("solo"))
	_, _ = r.Create(ctx, shc("cluster"))

	app := domain.App{Name: "Splunk_TA_nix", SourceID: "833", Version: "9.0.0"}

	added, err := r.AddApp(ctx, "cluster", app)
	if err != nil {
		t.Fatal(err)
	}
	if added.InstallTarget != domain.InstallSHCDeployer {
		t.Errorf("InstallTarget = %q, want shc_deployer", added.InstallTarget)
	}
	if _, err := r.AddApp(ctx, "cluster", app); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate AddApp() error = %v", err)
	}

	forced := app
	forced.InstallTarget = domain.InstallSHCDeployer
	if _, err := r.AddApp(ctx, "solo", forced); !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Errorf("shc_deployer target on standalone error = %v, want ErrPreconditionFailed", err)
	}

	if err := r.RemoveApp(ctx, "cluster", "Splunk_TA_nix"); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveApp(ctx, "cluster", "Splunk_TA_nix"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second RemoveApp() error = %v", err)
	}
}
