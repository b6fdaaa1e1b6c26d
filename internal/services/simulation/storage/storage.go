// Package storage defines the persistence boundary for the simulation.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mockingbird-labs/minifirm/internal/services/simulation/domain"
)

// ErrNotFound indicates a requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// SchedulerState is the explicit, server-side persisted state owned by the
// scheduler set: the RNG seed and each job's last completed tick.
type SchedulerState struct {
	Seed      int64                `json:"seed"`
	LastTicks map[string]time.Time `json:"last_ticks"`
}

// Store persists entities, activity history, clock events, and scheduler
// state. Implementations route every call through the bounded session
// governor, so any method may fail with a retryable exhaustion error.
type Store interface {
	ListEntities(ctx context.Context) ([]domain.Entity, error)
	GetEntity(ctx context.Context, entityID string) (domain.Entity, error)
	ListHousehold(ctx context.Context, householdID string) ([]domain.Entity, error)
	CountEntities(ctx context.Context) (int, error)
	InsertEntities(ctx context.Context, entities []domain.Entity) error

	// CommitTick applies one engine pass in a single transaction: entity
	// mutations, cascades, activity entries, and clock events land
	// together or not at all.
	CommitTick(ctx context.Context, result domain.TickResult) error

	ListActivity(ctx context.Context, entityID string, limit int) ([]domain.ActivityEntry, error)
	ListClockEvents(ctx context.Context, employeeID string, limit int) ([]domain.ClockEvent, error)

	LoadSchedulerState(ctx context.Context) (SchedulerState, bool, error)
	SaveSchedulerState(ctx context.Context, state SchedulerState) error
}
