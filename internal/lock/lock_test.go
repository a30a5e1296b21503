package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"quadrant/api/internal/store"
)

const testTTL = 5 * time.Minute

type backend struct {
	manager *Manager
	// seed ensures an idea row exists for table backends that need one.
	seed func(t *testing.T, ideaID string)
	// advance moves the backend's clock forward.
	advance func(d time.Duration)
}

func storeBackend(t *testing.T) backend {
	t.Helper()
	memory := store.NewMemoryStore()
	current := time.Now()
	memory.SetClock(func() time.Time { return current })
	table := NewStoreTable(memory)
	table.SetClock(func() time.Time { return current })

	return backend{
		manager: NewManager(table, testTTL, testTTL/3),
		seed: func(t *testing.T, ideaID string) {
			t.Helper()
			_, err := memory.InsertIdea(context.Background(), store.Idea{
				ID: ideaID, ProjectID: "prj-1", Content: "seed", OwnerID: "user-a",
				Priority: store.PriorityModerate,
			})
			if err != nil {
				t.Fatalf("seed idea: %v", err)
			}
		},
		advance: func(d time.Duration) { current = current.Add(d) },
	}
}

func redisBackend(t *testing.T) backend {
	t.Helper()
	mr := miniredis.RunT(t)
	table, err := NewRedisTable("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisTable failed: %v", err)
	}
	t.Cleanup(func() { table.Close() })

	return backend{
		manager: NewManager(table, testTTL, testTTL/3),
		seed:    func(t *testing.T, ideaID string) {},
		advance: mr.FastForward,
	}
}

// Both table backends must satisfy the same claim contract.
func TestManagerBackends(t *testing.T) {
	backends := map[string]func(*testing.T) backend{
		"store": storeBackend,
		"redis": redisBackend,
	}

	for name, setup := range backends {
		t.Run(name+"/mutual-exclusion", func(t *testing.T) {
			b := setup(t)
			b.seed(t, "idea-1")
			ctx := context.Background()

			if _, err := b.manager.Acquire(ctx, "idea-1", "user-a"); err != nil {
				t.Fatalf("user-a acquire failed: %v", err)
			}

			_, err := b.manager.Acquire(ctx, "idea-1", "user-b")
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("user-b acquire = %v, want ConflictError", err)
			}
			if conflict.HolderID != "user-a" {
				t.Errorf("conflict holder = %q, want user-a", conflict.HolderID)
			}
			if conflict.ExpiresAt.IsZero() {
				t.Error("conflict carries no expiry")
			}
		})

		t.Run(name+"/release-then-reacquire", func(t *testing.T) {
			b := setup(t)
			b.seed(t, "idea-1")
			ctx := context.Background()

			if _, err := b.manager.Acquire(ctx, "idea-1", "user-a"); err != nil {
				t.Fatalf("acquire failed: %v", err)
			}
			if err := b.manager.Release(ctx, "idea-1", "user-a"); err != nil {
				t.Fatalf("release failed: %v", err)
			}
			if _, err := b.manager.Acquire(ctx, "idea-1", "user-b"); err != nil {
				t.Fatalf("user-b acquire after release failed: %v", err)
			}
		})

		t.Run(name+"/release-by-non-holder", func(t *testing.T) {
			b := setup(t)
			b.seed(t, "idea-1")
			ctx := context.Background()

			if _, err := b.manager.Acquire(ctx, "idea-1", "user-a"); err != nil {
				t.Fatalf("acquire failed: %v", err)
			}
			if err := b.manager.Release(ctx, "idea-1", "user-b"); !errors.Is(err, ErrNotHolder) {
				t.Errorf("non-holder release = %v, want ErrNotHolder", err)
			}
		})

		t.Run(name+"/expired-claim-reclaimable", func(t *testing.T) {
			b := setup(t)
			b.seed(t, "idea-1")
			ctx := context.Background()

			if _, err := b.manager.Acquire(ctx, "idea-1", "user-a"); err != nil {
				t.Fatalf("acquire failed: %v", err)
			}
			b.advance(testTTL + time.Second)

			if _, err := b.manager.Acquire(ctx, "idea-1", "user-b"); err != nil {
				t.Fatalf("expired claim not reclaimable: %v", err)
			}
			// The stale holder lost the claim along with heartbeat rights.
			if err := b.manager.Heartbeat(ctx, "idea-1", "user-a"); !errors.Is(err, ErrNotHolder) {
				t.Errorf("stale holder heartbeat = %v, want ErrNotHolder", err)
			}
		})

		t.Run(name+"/guard-respects-claims", func(t *testing.T) {
			b := setup(t)
			b.seed(t, "idea-1")
			ctx := context.Background()

			// No claim: anyone may mutate.
			if err := b.manager.Guard(ctx, "idea-1", "user-a"); err != nil {
				t.Fatalf("guard with no claim = %v", err)
			}

			if _, err := b.manager.Acquire(ctx, "idea-1", "user-a"); err != nil {
				t.Fatalf("acquire failed: %v", err)
			}
			if err := b.manager.Guard(ctx, "idea-1", "user-a"); err != nil {
				t.Errorf("guard for holder = %v", err)
			}
			var conflict *ConflictError
			if err := b.manager.Guard(ctx, "idea-1", "user-b"); !errors.As(err, &conflict) {
				t.Errorf("guard for non-holder = %v, want ConflictError", err)
			}

			// An expired claim no longer blocks anyone.
			b.advance(testTTL + time.Second)
			if err := b.manager.Guard(ctx, "idea-1", "user-b"); err != nil {
				t.Errorf("guard after expiry = %v", err)
			}
		})

		t.Run(name+"/invalidate-clears-any-claim", func(t *testing.T) {
			b := setup(t)
			b.seed(t, "idea-1")
			ctx := context.Background()

			if _, err := b.manager.Acquire(ctx, "idea-1", "user-a"); err != nil {
				t.Fatalf("acquire failed: %v", err)
			}
			if err := b.manager.Invalidate(ctx, "idea-1"); err != nil {
				t.Fatalf("invalidate failed: %v", err)
			}
			// The claim is gone well before its TTL would have lapsed.
			if _, err := b.manager.Acquire(ctx, "idea-1", "user-b"); err != nil {
				t.Fatalf("acquire after invalidate failed: %v", err)
			}
		})

		t.Run(name+"/heartbeat-extends", func(t *testing.T) {
			b := setup(t)
			b.seed(t, "idea-1")
			ctx := context.Background()

			if _, err := b.manager.Acquire(ctx, "idea-1", "user-a"); err != nil {
				t.Fatalf("acquire failed: %v", err)
			}
			// Renew at just past half TTL, twice; the claim must survive
			// well beyond a single TTL from acquire.
			for i := 0; i < 2; i++ {
				b.advance(testTTL / 2)
				if err := b.manager.Heartbeat(ctx, "idea-1", "user-a"); err != nil {
					t.Fatalf("heartbeat %d failed: %v", i, err)
				}
			}
			b.advance(testTTL / 2)
			if _, err := b.manager.Acquire(ctx, "idea-1", "user-b"); err == nil {
				t.Error("user-b acquired despite active heartbeats")
			}
		})
	}
}

func TestGrantCarriesHeartbeatCadence(t *testing.T) {
	b := storeBackend(t)
	b.seed(t, "idea-1")

	grant, err := b.manager.Acquire(context.Background(), "idea-1", "user-a")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if grant.HeartbeatEvery != testTTL/3 {
		t.Errorf("HeartbeatEvery = %v, want %v", grant.HeartbeatEvery, testTTL/3)
	}
	if grant.ExpiresAt.IsZero() {
		t.Error("grant carries no expiry")
	}
}

func TestSweepClearsOnlyExpired(t *testing.T) {
	b := storeBackend(t)
	b.seed(t, "idea-1")
	b.seed(t, "idea-2")
	ctx := context.Background()

	if _, err := b.manager.Acquire(ctx, "idea-1", "user-a"); err != nil {
		t.Fatalf("acquire idea-1 failed: %v", err)
	}
	b.advance(testTTL + time.Second)
	if _, err := b.manager.Acquire(ctx, "idea-2", "user-b"); err != nil {
		t.Fatalf("acquire idea-2 failed: %v", err)
	}

	cleared, err := b.manager.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(cleared) != 1 || cleared[0] != "idea-1" {
		t.Errorf("sweep cleared %v, want [idea-1]", cleared)
	}
}
