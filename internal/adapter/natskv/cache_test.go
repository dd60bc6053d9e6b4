package natskv_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/TenantForge/internal/adapter/natskv"
	"github.com/Strob0t/TenantForge/internal/port/cache/cachetest"
)

func openBucket(t *testing.T) *natskv.Cache {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping NATS KV tests")
	}
	nc, err := nats.Connect(url)
	if err != nil {
		t.Skipf("nats unreachable: %v", err)
	}
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := natskv.Open(ctx, js, "TENANTFORGE_TEST_CACHE", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNATSKVCompliance(t *testing.T) {
	c := openBucket(t)
	cachetest.RunComplianceTests(t, c)
	cachetest.RunJSONTests(t, c)
}

func TestNATSKVPerKeyExpiry(t *testing.T) {
	c := openBucket(t)
	ctx := context.Background()

	if err := c.Set(ctx, "short-lived", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	_, found, err := c.Get(ctx, "short-lived")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected expired entry to be a miss")
	}
}
