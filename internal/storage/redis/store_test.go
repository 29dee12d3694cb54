package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/bcnelson/splunk-eam/internal/storage"
	"github.com/bcnelson/splunk-eam/internal/storage/storagetest"
)

// The suite needs a live server; set REDIS_TEST_ADDR to run it.
func TestConformance(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := New(context.Background(), Options{
			Addr:      addr,
			KeyPrefix: "eamtest-" + uuid.NewString(),
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
