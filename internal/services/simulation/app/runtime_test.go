package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mockingbird-labs/minifirm/internal/platform/pool"
	simsqlite "github.com/mockingbird-labs/minifirm/internal/services/simulation/storage/sqlite"
)

func openTempSimulationStore(t *testing.T) *simsqlite.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simulation.db")
	store, err := simsqlite.Open(path, pool.Config{Size: 2, AcquireTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("open simulation store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close simulation store: %v", err)
		}
	})
	return store
}

func TestLoadOrInitStateMintsAndPersistsSeed(t *testing.T) {
	store := openTempSimulationStore(t)

	first, err := loadOrInitState(context.Background(), store)
	if err != nil {
		t.Fatalf("init state: %v", err)
	}

	second, err := loadOrInitState(context.Background(), store)
	if err != nil {
		t.Fatalf("reload state: %v", err)
	}
	if second.Seed != first.Seed {
		t.Fatalf("seed changed across restarts: %d vs %d", first.Seed, second.Seed)
	}
}

func TestRunRejectsBadTimezone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := Run(ctx, RuntimeConfig{
		Timezone: "Mars/Olympus_Mons",
		DBPath:   filepath.Join(t.TempDir(), "simulation.db"),
	})
	if err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestRunRejectsBadStageOverrides(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := Run(ctx, RuntimeConfig{
		DBPath:         filepath.Join(t.TempDir(), "simulation.db"),
		StageOverrides: "bedtime=0.5", // bedtime has four stages
	})
	if err == nil {
		t.Fatal("expected error for mismatched stage override")
	}
}
