package memory

import (
	"context"
	"testing"
	"time"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/storage"
	"github.com/bcnelson/splunk-eam/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage { return New() })
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	_ = s.CreateToken(ctx, &domain.Token{ID: "old", ExpiresAt: now.Add(-time.Second)})
	_ = s.CreateToken(ctx, &domain.Token{ID: "live", ExpiresAt: now.Add(time.Hour)})
	_, _ = s.AcquireLease(ctx, &domain.Lease{StackID: "s1", LeaseID: "l", Deadline: now.Add(time.Second)}, now.Add(-time.Minute))

	n, err := s.PurgeExpired(ctx, now.Add(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("PurgeExpired() removed %d records, want 2", n)
	}
	if _, err := s.GetToken(ctx, "live"); err != nil {
		t.Errorf("live token was purged: %v", err)
	}
}

func TestReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	stack, _ := domain.NewStack(&domain.CreateStackRequest{StackID: "s1", DeploymentType: domain.DeploymentStandalone}, domain.DefaultStackDefaults())
	if err := s.CreateStack(ctx, stack); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetStack(ctx, "s1")
	got.Indexes = append(got.Indexes, domain.Index{Name: "leak"})

	again, _ := s.GetStack(ctx, "s1")
	if len(again.Indexes) != 0 {
		t.Error("mutating a returned stack must not change the store")
	}
}
