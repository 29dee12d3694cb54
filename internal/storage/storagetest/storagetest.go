// Package storagetest holds a conformance suite shared by every Storage
// implementation.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/storage"
)

// Run exercises store against the Storage contract. newStore must return an
// empty store; it is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	t.Run("StackLifecycle", func(t *testing.T) { testStackLifecycle(t, newStore(t)) })
	t.Run("StackVersionConflict", func(t *testing.T) { testStackVersionConflict(t, newStore(t)) })
	t.Run("StackCreateRace", func(t *testing.T) { testStackCreateRace(t, newStore(t)) })
	t.Run("Tokens", func(t *testing.T) { testTokens(t, newStore(t)) })
	t.Run("RootCredential", func(t *testing.T) { testRootCredential(t, newStore(t)) })
	t.Run("Leases", func(t *testing.T) { testLeases(t, newStore(t)) })
	t.Run("LeaseTakeover", func(t *testing.T) { testLeaseTakeover(t, newStore(t)) })
	t.Run("LeaseAcquireRace", func(t *testing.T) { testLeaseAcquireRace(t, newStore(t)) })
}

func newStack(id string) *domain.Stack {
	s, err := domain.NewStack(&domain.CreateStackRequest{
		StackID:        id,
		DeploymentType: domain.DeploymentStandalone,
	}, domain.DefaultStackDefaults())
	if err != nil {
		panic(err)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	s.CreatedAt, s.UpdatedAt = now, now
	return s
}

func testStackLifecycle(t *testing.T, st storage.Storage) {
	ctx := context.Background()

	s1 := newStack("s1")
	s1.SSHKey = []byte("key")
	s1.Inventory = domain.Inventory{"all": {Hosts: map[string]domain.HostVars{"h1": {"ansible_user": "root"}}}}
	if err := st.CreateStack(ctx, s1); err != nil {
		t.Fatalf("CreateStack() error = %v", err)
	}
	if s1.Version != 1 {
		t.Errorf("Version after create = %d, want 1", s1.Version)
	}
	if err := st.CreateStack(ctx, newStack("s1")); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate CreateStack() error = %v, want ErrAlreadyExists", err)
	}
	if err := st.CreateStack(ctx, newStack("s2")); err != nil {
		t.Fatalf("CreateStack(s2) error = %v", err)
	}

	got, err := st.GetStack(ctx, "s1")
	if err != nil {
		t.Fatalf("GetStack() error = %v", err)
	}
	if got.SplunkdPort != 8089 || string(got.SSHKey) != "key" {
		t.Errorf("GetStack() = %+v", got)
	}
	if got.Inventory["all"].Hosts["h1"]["ansible_user"] != "root" {
		t.Errorf("inventory not stored: %+v", got.Inventory)
	}

	got.Indexes = append(got.Indexes, domain.Index{Name: "web", MaxDataSizeMB: 10, DataType: domain.DataTypeEvent})
	if err := st.UpdateStack(ctx, got); err != nil {
		t.Fatalf("UpdateStack() error = %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Version after update = %d, want 2", got.Version)
	}
	again, _ := st.GetStack(ctx, "s1")
	if len(again.Indexes) != 1 || again.Version != 2 {
		t.Errorf("update not persisted: %+v", again)
	}

	list, err := st.ListStacks(ctx)
	if err != nil {
		t.Fatalf("ListStacks() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "s1" || list[1].ID != "s2" {
		t.Errorf("ListStacks() returned %d stacks", len(list))
	}

	if err := st.DeleteStack(ctx, "s1"); err != nil {
		t.Fatalf("DeleteStack() error = %v", err)
	}
	if _, err := st.GetStack(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetStack() after delete error = %v, want ErrNotFound", err)
	}
	if err := st.DeleteStack(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second DeleteStack() error = %v, want ErrNotFound", err)
	}
	if err := st.UpdateStack(ctx, again); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateStack() on deleted stack error = %v, want ErrNotFound", err)
	}
}

func testStackVersionConflict(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	if err := st.CreateStack(ctx, newStack("s1")); err != nil {
		t.Fatal(err)
	}

	a, _ := st.GetStack(ctx, "s1")
	b, _ := st.GetStack(ctx, "s1")

	a.Apps = append(a.Apps, domain.App{Name: "a", SourceID: "1", Version: "1"})
	if err := st.UpdateStack(ctx, a); err != nil {
		t.Fatalf("first UpdateStack() error = %v", err)
	}
	b.Apps = append(b.Apps, domain.App{Name: "b", SourceID: "2", Version: "1"})
	if err := st.UpdateStack(ctx, b); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale UpdateStack() error = %v, want ErrConflict", err)
	}
	if b.Version != 1 {
		t.Errorf("failed update must leave Version unchanged, got %d", b.Version)
	}

	got, _ := st.GetStack(ctx, "s1")
	if len(got.Apps) != 1 || got.Apps[0].Name != "a" {
		t.Errorf("stale write leaked: %+v", got.Apps)
	}
}

func testStackCreateRace(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := st.CreateStack(ctx, newStack("race")); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("%d concurrent creates succeeded, want 1", wins.Load())
	}
}

func testTokens(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	tok := &domain.Token{ID: "abc", Principal: "admin", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}

	if err := st.CreateToken(ctx, tok); err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	got, err := st.GetToken(ctx, "abc")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if got.Principal != "admin" || !got.ExpiresAt.Equal(tok.ExpiresAt) {
		t.Errorf("GetToken() = %+v", got)
	}

	if err := st.DeleteToken(ctx, "abc"); err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	if _, err := st.GetToken(ctx, "abc"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetToken() after delete error = %v, want ErrNotFound", err)
	}
	if err := st.DeleteToken(ctx, "abc"); err != nil {
		t.Errorf("DeleteToken() must be idempotent, got %v", err)
	}
	if _, err := st.GetToken(ctx, "unknown"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetToken(unknown) error = %v, want ErrNotFound", err)
	}

	// Purging at a time after expiry evicts the record where the store does
	// not evict natively; either way it must stop being valid.
	short := &domain.Token{ID: "short", Principal: "admin", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := st.CreateToken(ctx, short); err != nil {
		t.Fatal(err)
	}
	if _, err := st.PurgeExpired(ctx, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if got, err := st.GetToken(ctx, "short"); err == nil && got.Valid(now.Add(2*time.Hour)) {
		t.Error("token must not be valid after its expiry")
	}
}

func testRootCredential(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	if _, err := st.GetRootCredential(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetRootCredential() on empty store error = %v, want ErrNotFound", err)
	}

	first := &domain.RootCredential{Username: "admin", PasswordHash: []byte("h1"), UpdatedAt: time.Now().UTC()}
	ok, err := st.InitRootCredential(ctx, first)
	if err != nil || !ok {
		t.Fatalf("InitRootCredential() = %v, %v", ok, err)
	}
	ok, err = st.InitRootCredential(ctx, &domain.RootCredential{Username: "other", PasswordHash: []byte("h2")})
	if err != nil || ok {
		t.Fatalf("second InitRootCredential() = %v, %v; want false", ok, err)
	}
	got, _ := st.GetRootCredential(ctx)
	if got.Username != "admin" || string(got.PasswordHash) != "h1" {
		t.Errorf("Init overwrote the credential: %+v", got)
	}

	if err := st.PutRootCredential(ctx, &domain.RootCredential{Username: "admin", PasswordHash: []byte("h3")}); err != nil {
		t.Fatalf("PutRootCredential() error = %v", err)
	}
	got, _ = st.GetRootCredential(ctx)
	if string(got.PasswordHash) != "h3" {
		t.Errorf("PasswordHash = %q, want h3", got.PasswordHash)
	}
}

func testLeases(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	lease := &domain.Lease{
		StackID: "s1", Holder: "a", LeaseID: "l1",
		AcquiredAt: now, Deadline: now.Add(time.Minute),
	}

	ok, err := st.AcquireLease(ctx, lease, now)
	if err != nil || !ok {
		t.Fatalf("AcquireLease() = %v, %v", ok, err)
	}
	other := &domain.Lease{StackID: "s1", Holder: "b", LeaseID: "l2", AcquiredAt: now, Deadline: now.Add(time.Minute)}
	if ok, _ := st.AcquireLease(ctx, other, now); ok {
		t.Fatal("second AcquireLease() on a live lease must fail")
	}
	if ok, _ := st.AcquireLease(ctx, &domain.Lease{StackID: "s2", Holder: "b", LeaseID: "l3", AcquiredAt: now, Deadline: now.Add(time.Minute)}, now); !ok {
		t.Error("leases on different stacks must be independent")
	}

	if ok, _ := st.RenewLease(ctx, "s1", "l2", now.Add(2*time.Minute), now); ok {
		t.Error("RenewLease() with the wrong lease id must fail")
	}
	if ok, err := st.RenewLease(ctx, "s1", "l1", now.Add(2*time.Minute), now); err != nil || !ok {
		t.Fatalf("RenewLease() = %v, %v", ok, err)
	}
	got, err := st.GetLease(ctx, "s1")
	if err != nil {
		t.Fatalf("GetLease() error = %v", err)
	}
	if !got.Deadline.Equal(now.Add(2*time.Minute)) || got.Holder != "a" {
		t.Errorf("GetLease() = %+v", got)
	}

	if err := st.ReleaseLease(ctx, "s1", "l2"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetLease(ctx, "s1"); err != nil {
		t.Error("ReleaseLease() with the wrong lease id must not remove the lease")
	}
	if err := st.ReleaseLease(ctx, "s1", "l1"); err != nil {
		t.Fatalf("ReleaseLease() error = %v", err)
	}
	if _, err := st.GetLease(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetLease() after release error = %v, want ErrNotFound", err)
	}
	if err := st.ReleaseLease(ctx, "s1", "l1"); err != nil {
		t.Errorf("ReleaseLease() must be idempotent, got %v", err)
	}
	if ok, _ := st.RenewLease(ctx, "s1", "l1", now.Add(time.Hour), now); ok {
		t.Error("RenewLease() after release must fail")
	}

	if err := st.DeleteLease(ctx, "s2"); err != nil {
		t.Fatalf("DeleteLease() error = %v", err)
	}
	if _, err := st.GetLease(ctx, "s2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetLease() after DeleteLease error = %v", err)
	}
}

// testLeaseTakeover uses a short real deadline so that stores with native
// expiry see the lease lapse too.
func testLeaseTakeover(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	start := time.Now()
	first := &domain.Lease{StackID: "s1", Holder: "a", LeaseID: "l1", AcquiredAt: start, Deadline: start.Add(50 * time.Millisecond)}
	if ok, err := st.AcquireLease(ctx, first, start); err != nil || !ok {
		t.Fatalf("AcquireLease() = %v, %v", ok, err)
	}

	time.Sleep(100 * time.Millisecond)
	now := time.Now()
	second := &domain.Lease{StackID: "s1", Holder: "b", LeaseID: "l2", AcquiredAt: now, Deadline: now.Add(time.Minute)}
	if ok, err := st.AcquireLease(ctx, second, now); err != nil || !ok {
		t.Fatalf("AcquireLease() over an expired lease = %v, %v", ok, err)
	}
	if ok, _ := st.RenewLease(ctx, "s1", "l1", now.Add(time.Hour), now); ok {
		t.Error("the previous holder must not renew after takeover")
	}
	if err := st.ReleaseLease(ctx, "s1", "l1"); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetLease(ctx, "s1")
	if err != nil || got.LeaseID != "l2" {
		t.Errorf("stale release removed the new lease: %+v, %v", got, err)
	}
}

func testLeaseAcquireRace(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	now := time.Now()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lease := &domain.Lease{
				StackID: "race", Holder: "h", LeaseID: string(rune('a' + i)),
				AcquiredAt: now, Deadline: now.Add(time.Minute),
			}
			if ok, err := st.AcquireLease(ctx, lease, now); err == nil && ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("%d concurrent acquires succeeded, want 1", wins.Load())
	}
}
