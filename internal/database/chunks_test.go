package database

import (
	"context"
	"testing"

	"github.com/sweepworld/server/internal/minegen"
	"github.com/sweepworld/server/internal/testutil"
)

func TestPostgresChunkCache(t *testing.T) {
	db := testutil.SetupTestDB(t)

	ctx := context.Background()
	cache := NewPostgresChunkCache(db)
	if _, err := db.Exec("DROP TABLE IF EXISTS generated_chunks"); err != nil {
		t.Fatalf("Failed to drop table: %v", err)
	}

	g := minegen.New(11)
	key := KeyFor(g, 2, -3)

	t.Run("missing table is a miss", func(t *testing.T) {
		_, ok, err := cache.Get(ctx, key)
		if err != nil || ok {
			t.Fatalf("Expected miss without error, got ok=%v err=%v", ok, err)
		}
	})

	if err := cache.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	t.Run("round trip", func(t *testing.T) {
		chunk := g.Generate(2, -3)
		if err := cache.Put(ctx, key, chunk); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		// Second put is ignored.
		if err := cache.Put(ctx, key, chunk); err != nil {
			t.Fatalf("Repeated put failed: %v", err)
		}

		got, ok, err := cache.Get(ctx, key)
		if err != nil || !ok {
			t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
		}
		if got != chunk {
			t.Error("Stored chunk differs from generated chunk")
		}
	})

	t.Run("batch", func(t *testing.T) {
		chunks := map[ChunkKey]minegen.Chunk{}
		var keys []ChunkKey
		for x := int32(-2); x <= 2; x++ {
			k := KeyFor(g, x, 7)
			chunks[k] = g.Generate(x, 7)
			keys = append(keys, k)
		}
		if err := cache.PutMany(ctx, chunks); err != nil {
			t.Fatalf("PutMany failed: %v", err)
		}

		got, err := cache.GetMany(ctx, append(keys, KeyFor(g, 100, 100)))
		if err != nil {
			t.Fatalf("GetMany failed: %v", err)
		}
		if len(got) != len(chunks) {
			t.Fatalf("Expected %d hits, got %d", len(chunks), len(got))
		}
		for k, chunk := range chunks {
			if got[k] != chunk {
				t.Errorf("Chunk %v differs", k)
			}
		}
	})

	t.Run("purge other versions", func(t *testing.T) {
		old := key
		old.Version = minegen.GeneratorVersion - 1
		if err := cache.Put(ctx, old, g.Generate(2, -3)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		n, err := cache.Purge(ctx, minegen.GeneratorVersion)
		if err != nil {
			t.Fatalf("Purge failed: %v", err)
		}
		if n != 1 {
			t.Errorf("Expected 1 purged row, got %d", n)
		}
		if _, ok, _ := cache.Get(ctx, key); !ok {
			t.Error("Expected current version to survive purge")
		}
	})
	t.Run("clear", func(t *testing.T) {
		n, err := cache.Clear(ctx)
		if err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		// One chunk from the round trip plus five from the batch.
		if n != 6 {
			t.Errorf("Expected 6 cleared rows, got %d", n)
		}
		if _, ok, _ := cache.Get(ctx, key); ok {
			t.Error("Expected cleared chunk to be absent")
		}
	})
}
