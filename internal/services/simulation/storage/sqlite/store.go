// Package sqlite provides SQLite-backed simulation persistence behind the
// bounded session governor.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mockingbird-labs/minifirm/internal/platform/pool"
	"github.com/mockingbird-labs/minifirm/internal/platform/storage/sqlitemigrate"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/domain"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/storage"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

const schedulerStateKey = "scheduler"

// Store provides SQLite-backed simulation persistence. Every operation
// leases one session from the governor, so schedulers and API reads
// contend on the same bounded pool.
type Store struct {
	sqlDB    *sql.DB
	governor *pool.Pool
}

// Open opens the simulation SQLite store, applies migrations, and wraps
// connections in the session governor.
func Open(path string, poolCfg pool.Config) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	// The governor owns admission; the driver pool must sit above its bound.
	sqlDB.SetMaxOpenConns(poolCfg.Size + poolCfg.MaxOverflow + 2)

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	governor, err := pool.New(poolCfg, func(ctx context.Context) (*sql.Conn, error) {
		return sqlDB.Conn(ctx)
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("build session governor: %w", err)
	}

	return &Store{sqlDB: sqlDB, governor: governor}, nil
}

// Governor exposes the session pool for observability and tests.
func (s *Store) Governor() *pool.Pool {
	if s == nil {
		return nil
	}
	return s.governor
}

// Close releases the governor and the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	if s.governor != nil {
		_ = s.governor.Close()
	}
	return s.sqlDB.Close()
}

func (s *Store) acquire(ctx context.Context) (*pool.Session, error) {
	if s == nil || s.governor == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	return s.governor.Acquire(ctx)
}

const entityColumns = "id, kind, name, household_id, role_class, sleep_state, activity_state, location, updated_at"

func scanEntity(rows *sql.Rows) (domain.Entity, error) {
	var entity domain.Entity
	var updatedAt int64
	if err := rows.Scan(
		&entity.ID,
		&entity.Kind,
		&entity.Name,
		&entity.HouseholdID,
		&entity.RoleClass,
		&entity.SleepState,
		&entity.ActivityState,
		&entity.Location,
		&updatedAt,
	); err != nil {
		return domain.Entity{}, fmt.Errorf("scan entity: %w", err)
	}
	entity.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	entity.LastTransitions = make(map[domain.TransitionKind]time.Time)
	return entity, nil
}

func listEntitiesWhere(ctx context.Context, conn *sql.Conn, where string, args ...any) ([]domain.Entity, error) {
	query := "SELECT " + entityColumns + " FROM entities"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY id"

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var entities []domain.Entity
	index := make(map[string]int)
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		index[entity.ID] = len(entities)
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	if len(entities) == 0 {
		return entities, nil
	}

	transitionQuery := "SELECT entity_id, kind, occurred_at FROM entity_transitions"
	if where != "" {
		transitionQuery += " WHERE entity_id IN (SELECT id FROM entities WHERE " + where + ")"
	}
	transitionRows, err := conn.QueryContext(ctx, transitionQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("list entity transitions: %w", err)
	}
	defer transitionRows.Close()

	for transitionRows.Next() {
		var entityID string
		var kind domain.TransitionKind
		var occurredAt int64
		if err := transitionRows.Scan(&entityID, &kind, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan entity transition: %w", err)
		}
		if i, ok := index[entityID]; ok {
			entities[i].LastTransitions[kind] = time.UnixMilli(occurredAt).UTC()
		}
	}
	if err := transitionRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity transitions: %w", err)
	}
	return entities, nil
}

// ListEntities returns the full population with transition timestamps.
func (s *Store) ListEntities(ctx context.Context) ([]domain.Entity, error) {
	session, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Release()
	return listEntitiesWhere(ctx, session.Conn, "")
}

// GetEntity returns one entity or storage.ErrNotFound.
func (s *Store) GetEntity(ctx context.Context, entityID string) (domain.Entity, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return domain.Entity{}, storage.ErrNotFound
	}
	session, err := s.acquire(ctx)
	if err != nil {
		return domain.Entity{}, err
	}
	defer session.Release()

	entities, err := listEntitiesWhere(ctx, session.Conn, "id = ?", entityID)
	if err != nil {
		return domain.Entity{}, err
	}
	if len(entities) == 0 {
		return domain.Entity{}, storage.ErrNotFound
	}
	return entities[0], nil
}

// ListHousehold returns every entity sharing a household id.
func (s *Store) ListHousehold(ctx context.Context, householdID string) ([]domain.Entity, error) {
	session, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Release()
	return listEntitiesWhere(ctx, session.Conn, "household_id = ?", householdID)
}

// CountEntities reports the population size.
func (s *Store) CountEntities(ctx context.Context) (int, error) {
	session, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer session.Release()

	var count int
	if err := session.Conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return count, nil
}

// InsertEntities persists bootstrap entities in one transaction.
func (s *Store) InsertEntities(ctx context.Context, entities []domain.Entity) error {
	for _, entity := range entities {
		if err := entity.Validate(); err != nil {
			return fmt.Errorf("entity %q: %w", entity.ID, err)
		}
	}

	session, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer session.Release()

	tx, err := session.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert transaction: %w", err)
	}
	for _, entity := range entities {
		if err := upsertEntity(ctx, tx, entity); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert transaction: %w", err)
	}
	return nil
}

// CommitTick applies one engine pass atomically: entity mutations,
// cascades, activity entries, and clock events land together or not at all.
func (s *Store) CommitTick(ctx context.Context, result domain.TickResult) error {
	if len(result.Transitioned) == 0 {
		return nil
	}

	session, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer session.Release()

	tx, err := session.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tick transaction: %w", err)
	}

	commit := func() error {
		for _, transition := range result.Transitioned {
			entities := append([]domain.Entity{transition.Entity}, transition.Cascaded...)
			for _, entity := range entities {
				if err := upsertEntity(ctx, tx, entity); err != nil {
					return err
				}
			}
			for _, entry := range transition.Entries {
				if _, err := tx.ExecContext(ctx, `
INSERT INTO activity_log (id, entity_id, kind, description, created_at)
VALUES (?, ?, ?, ?, ?)
`, entry.ID, entry.EntityID, entry.Kind, entry.Description, entry.CreatedAt.UTC().UnixMilli()); err != nil {
					return fmt.Errorf("insert activity entry: %w", err)
				}
			}
			for _, event := range transition.ClockEvents {
				if _, err := tx.ExecContext(ctx, `
INSERT INTO clock_events (id, employee_id, event_type, location, created_at)
VALUES (?, ?, ?, ?, ?)
`, event.ID, event.EmployeeID, event.EventType, event.Location, event.CreatedAt.UTC().UnixMilli()); err != nil {
					return fmt.Errorf("insert clock event: %w", err)
				}
			}
		}
		return nil
	}

	if err := commit(); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tick transaction: %w", err)
	}
	return nil
}

func upsertEntity(ctx context.Context, tx *sql.Tx, entity domain.Entity) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO entities (id, kind, name, household_id, role_class, sleep_state, activity_state, location, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    sleep_state = excluded.sleep_state,
    activity_state = excluded.activity_state,
    location = excluded.location,
    updated_at = excluded.updated_at
`,
		entity.ID,
		entity.Kind,
		entity.Name,
		entity.HouseholdID,
		entity.RoleClass,
		entity.SleepState,
		entity.ActivityState,
		entity.Location,
		entity.UpdatedAt.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("upsert entity %q: %w", entity.ID, err)
	}

	for kind, occurredAt := range entity.LastTransitions {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO entity_transitions (entity_id, kind, occurred_at)
VALUES (?, ?, ?)
ON CONFLICT(entity_id, kind) DO UPDATE SET occurred_at = excluded.occurred_at
`, entity.ID, kind, occurredAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("upsert entity transition %q/%s: %w", entity.ID, kind, err)
		}
	}
	return nil
}

// ListActivity lists newest-first activity entries for one entity.
func (s *Store) ListActivity(ctx context.Context, entityID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	session, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Release()

	rows, err := session.Conn.QueryContext(ctx, `
SELECT id, entity_id, kind, description, created_at
FROM activity_log
WHERE entity_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.ActivityEntry, 0, limit)
	for rows.Next() {
		var entry domain.ActivityEntry
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.EntityID, &entry.Kind, &entry.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity entry: %w", err)
		}
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity entries: %w", err)
	}
	return entries, nil
}

// ListClockEvents lists newest-first attendance events for one employee.
func (s *Store) ListClockEvents(ctx context.Context, employeeID string, limit int) ([]domain.ClockEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	session, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Release()

	rows, err := session.Conn.QueryContext(ctx, `
SELECT id, employee_id, event_type, location, created_at
FROM clock_events
WHERE employee_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, employeeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list clock events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.ClockEvent, 0, limit)
	for rows.Next() {
		var event domain.ClockEvent
		var createdAt int64
		if err := rows.Scan(&event.ID, &event.EmployeeID, &event.EventType, &event.Location, &createdAt); err != nil {
			return nil, fmt.Errorf("scan clock event: %w", err)
		}
		event.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clock events: %w", err)
	}
	return events, nil
}

// LoadSchedulerState returns the persisted scheduler state when present.
func (s *Store) LoadSchedulerState(ctx context.Context) (storage.SchedulerState, bool, error) {
	session, err := s.acquire(ctx)
	if err != nil {
		return storage.SchedulerState{}, false, err
	}
	defer session.Release()

	var raw string
	err = session.Conn.QueryRowContext(ctx,
		"SELECT value FROM scheduler_state WHERE name = ?", schedulerStateKey,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return storage.SchedulerState{}, false, nil
	}
	if err != nil {
		return storage.SchedulerState{}, false, fmt.Errorf("load scheduler state: %w", err)
	}

	var state storage.SchedulerState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return storage.SchedulerState{}, false, fmt.Errorf("decode scheduler state: %w", err)
	}
	return state, true, nil
}

// SaveSchedulerState upserts the scheduler state row.
func (s *Store) SaveSchedulerState(ctx context.Context, state storage.SchedulerState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode scheduler state: %w", err)
	}

	session, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer session.Release()

	if _, err := session.Conn.ExecContext(ctx, `
INSERT INTO scheduler_state (name, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, schedulerStateKey, string(raw), time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("save scheduler state: %w", err)
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
