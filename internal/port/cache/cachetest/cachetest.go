// Package cachetest provides a compliance suite every cache.Cache adapter runs.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/TenantForge/internal/port/cache"
)

// RunComplianceTests runs the standard compliance suite against c.
func RunComplianceTests(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "compliance-key", []byte("compliance-val"), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "compliance-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != "compliance-val" {
			t.Fatalf("expected compliance-val, got %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "nonexistent-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "del-key", []byte("del-val"), time.Minute)
		if err := c.Delete(ctx, "del-key"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "del-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "never-existed"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "ow-key", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "ow-key", []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, "ow-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})
}

// RunJSONTests checks the JSON helpers against any Cache implementation.
func RunJSONTests(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	type roster struct {
		IDs []string `json:"ids"`
	}

	t.Run("RoundTrip", func(t *testing.T) {
		if err := cache.SetJSON(ctx, c, "json-key", roster{IDs: []string{"a", "b"}}, time.Minute); err != nil {
			t.Fatal(err)
		}
		got, found, err := cache.GetJSON[roster](ctx, c, "json-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found || len(got.IDs) != 2 || got.IDs[1] != "b" {
			t.Fatalf("unexpected roster %+v (found=%v)", got, found)
		}
	})

	t.Run("CorruptValueIsMiss", func(t *testing.T) {
		_ = c.Set(ctx, "json-corrupt", []byte("{nope"), time.Minute)
		_, found, err := cache.GetJSON[roster](ctx, c, "json-corrupt")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected corrupt value to be a miss")
		}
	})
}
