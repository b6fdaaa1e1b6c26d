// Package app boots the simulation runtime: storage, population seeding,
// the scheduler set, and the HTTP read surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mockingbird-labs/minifirm/internal/platform/pool"
	"github.com/mockingbird-labs/minifirm/internal/platform/timeouts"
	"github.com/mockingbird-labs/minifirm/internal/random"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/api"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/broadcast"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/domain"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/scheduler"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/seed"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/storage"
	simsqlite "github.com/mockingbird-labs/minifirm/internal/services/simulation/storage/sqlite"
	"github.com/mockingbird-labs/minifirm/internal/simclock"
)

// RuntimeConfig controls simulation startup, dependencies, and cadences.
type RuntimeConfig struct {
	Port           int
	DBPath         string
	Timezone       string
	Households     int
	PoolSize       int
	PoolOverflow   int
	RecycleAge     time.Duration
	StageOverrides string
	Intervals      scheduler.Intervals
	ReplayBuffer   int
}

const (
	defaultPort       = 8090
	defaultDB         = "data/simulation.db"
	defaultTimezone   = "America/New_York"
	defaultHouseholds = 12
	defaultPoolSize   = 5
	defaultOverflow   = 2
	defaultRecycleAge = 30 * time.Minute
	defaultReplay     = 16
)

// Run starts the simulation runtime and blocks until ctx is canceled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDB
	}
	if strings.TrimSpace(cfg.Timezone) == "" {
		cfg.Timezone = defaultTimezone
	}
	if cfg.Households <= 0 {
		cfg.Households = defaultHouseholds
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.PoolOverflow < 0 {
		cfg.PoolOverflow = defaultOverflow
	}
	if cfg.RecycleAge <= 0 {
		cfg.RecycleAge = defaultRecycleAge
	}
	if cfg.ReplayBuffer <= 0 {
		cfg.ReplayBuffer = defaultReplay
	}
	defaults := scheduler.DefaultIntervals()
	if cfg.Intervals.SleepWake <= 0 {
		cfg.Intervals.SleepWake = defaults.SleepWake
	}
	if cfg.Intervals.ClockEvents <= 0 {
		cfg.Intervals.ClockEvents = defaults.ClockEvents
	}
	if cfg.Intervals.ClockEventsTight <= 0 {
		cfg.Intervals.ClockEventsTight = defaults.ClockEventsTight
	}
	if cfg.Intervals.CoffeeBreaks <= 0 {
		cfg.Intervals.CoffeeBreaks = defaults.CoffeeBreaks
	}
	if cfg.Intervals.Enforcement <= 0 {
		cfg.Intervals.Enforcement = defaults.Enforcement
	}

	clock, err := simclock.New(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("build simulation clock: %w", err)
	}

	windows := domain.DefaultWindows()
	overrides, err := domain.ParseStageOverrides(cfg.StageOverrides)
	if err != nil {
		return fmt.Errorf("parse stage overrides: %w", err)
	}
	if err := domain.ApplyStageOverrides(windows, overrides); err != nil {
		return fmt.Errorf("apply stage overrides: %w", err)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create simulation storage dir: %w", err)
		}
	}

	store, err := simsqlite.Open(cfg.DBPath, pool.Config{
		Size:           cfg.PoolSize,
		MaxOverflow:    cfg.PoolOverflow,
		AcquireTimeout: timeouts.PoolAcquire,
		RecycleAge:     cfg.RecycleAge,
	})
	if err != nil {
		return fmt.Errorf("open simulation sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close simulation sqlite store: %v", closeErr)
		}
	}()

	state, err := loadOrInitState(ctx, store)
	if err != nil {
		return err
	}

	inserted, err := seed.EnsurePopulation(ctx, store, cfg.Households, state.Seed, clock.Now())
	if err != nil {
		return fmt.Errorf("seed population: %w", err)
	}
	if inserted > 0 {
		log.Printf("seeded %d entities across %d households", inserted, cfg.Households)
	}

	broadcaster := broadcast.New(cfg.ReplayBuffer)
	defer broadcaster.Close()

	runner := &scheduler.Runner{
		Store:       store,
		Engine:      domain.NewEngine(state.Seed, nil),
		Broadcaster: broadcaster,
	}
	jobs, err := scheduler.BuildJobs(runner, windows, domain.DefaultEnforcementPolicy(), cfg.Intervals)
	if err != nil {
		return fmt.Errorf("build scheduler jobs: %w", err)
	}
	set := scheduler.NewSet(clock, store, log.Default(), state, jobs)

	handler := api.NewHandler(store, broadcaster, clock, log.Default())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	log.Printf("simulation server listening at %s", server.Addr)

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		set.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("simulation server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown simulation server: %v", err)
	}
	<-schedulerDone
	return nil
}

// loadOrInitState recovers persisted scheduler state or mints a fresh
// seed so restarts keep the same draw sequence.
func loadOrInitState(ctx context.Context, store storage.Store) (storage.SchedulerState, error) {
	state, ok, err := store.LoadSchedulerState(ctx)
	if err != nil {
		return storage.SchedulerState{}, fmt.Errorf("load scheduler state: %w", err)
	}
	if ok {
		return state, nil
	}

	seedValue, err := random.NewSeed()
	if err != nil {
		return storage.SchedulerState{}, fmt.Errorf("generate scheduler seed: %w", err)
	}
	state = storage.SchedulerState{Seed: seedValue, LastTicks: make(map[string]time.Time)}
	if err := store.SaveSchedulerState(ctx, state); err != nil {
		return storage.SchedulerState{}, fmt.Errorf("persist scheduler seed: %w", err)
	}
	return state, nil
}
