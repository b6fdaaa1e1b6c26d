// Package simulation parses simulation command flags and launches the
// simulation runtime.
package simulation

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/mockingbird-labs/minifirm/internal/platform/cmd"
	simserver "github.com/mockingbird-labs/minifirm/internal/services/simulation/app"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/scheduler"
)

// Config holds simulation command configuration.
type Config struct {
	Port                 int           `env:"MINIFIRM_SIMULATION_PORT" envDefault:"8090"`
	DBPath               string        `env:"MINIFIRM_SIMULATION_DB_PATH" envDefault:"data/simulation.db"`
	Timezone             string        `env:"MINIFIRM_SIMULATION_TIMEZONE" envDefault:"America/New_York"`
	Households           int           `env:"MINIFIRM_SIMULATION_HOUSEHOLDS" envDefault:"12"`
	PoolSize             int           `env:"MINIFIRM_SIMULATION_POOL_SIZE" envDefault:"5"`
	PoolOverflow         int           `env:"MINIFIRM_SIMULATION_POOL_OVERFLOW" envDefault:"2"`
	PoolRecycleAge       time.Duration `env:"MINIFIRM_SIMULATION_POOL_RECYCLE_AGE" envDefault:"30m"`
	StageOverrides       string        `env:"MINIFIRM_SIMULATION_STAGE_OVERRIDES"`
	SleepWakeInterval    time.Duration `env:"MINIFIRM_SIMULATION_SLEEP_WAKE_INTERVAL" envDefault:"2m"`
	ClockEventInterval   time.Duration `env:"MINIFIRM_SIMULATION_CLOCK_EVENT_INTERVAL" envDefault:"2m"`
	ClockEventTight      time.Duration `env:"MINIFIRM_SIMULATION_CLOCK_EVENT_TIGHT_INTERVAL" envDefault:"1m"`
	CoffeeBreakInterval  time.Duration `env:"MINIFIRM_SIMULATION_COFFEE_BREAK_INTERVAL" envDefault:"5m"`
	EnforcementInterval  time.Duration `env:"MINIFIRM_SIMULATION_ENFORCEMENT_INTERVAL" envDefault:"10m"`
	EventReplayBuffer    int           `env:"MINIFIRM_SIMULATION_EVENT_REPLAY_BUFFER" envDefault:"16"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The simulation HTTP server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The simulation SQLite database path")
	fs.StringVar(&cfg.Timezone, "timezone", cfg.Timezone, "Civil timezone for all eligibility windows")
	fs.IntVar(&cfg.Households, "households", cfg.Households, "Household count seeded on an empty database")
	fs.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "Base database session pool size")
	fs.IntVar(&cfg.PoolOverflow, "pool-overflow", cfg.PoolOverflow, "Extra overflow sessions beyond the base pool")
	fs.DurationVar(&cfg.PoolRecycleAge, "pool-recycle-age", cfg.PoolRecycleAge, "Age at which idle sessions are recycled")
	fs.StringVar(&cfg.StageOverrides, "stage-overrides", cfg.StageOverrides, "Per-window stage probability overrides (name=p1,p2;...)")
	fs.DurationVar(&cfg.SleepWakeInterval, "sleep-wake-interval", cfg.SleepWakeInterval, "Sleep/wake scheduler tick interval")
	fs.DurationVar(&cfg.ClockEventInterval, "clock-event-interval", cfg.ClockEventInterval, "Clock-event scheduler tick interval")
	fs.DurationVar(&cfg.ClockEventTight, "clock-event-tight-interval", cfg.ClockEventTight, "Clock-event interval inside the evening departure window")
	fs.DurationVar(&cfg.CoffeeBreakInterval, "coffee-break-interval", cfg.CoffeeBreakInterval, "Coffee break scheduler tick interval")
	fs.DurationVar(&cfg.EnforcementInterval, "enforcement-interval", cfg.EnforcementInterval, "Enforcement sweep interval")
	fs.IntVar(&cfg.EventReplayBuffer, "event-replay-buffer", cfg.EventReplayBuffer, "Recent events replayed to new stream subscribers")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the simulation runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSimulation, func(context.Context) error {
		return simserver.Run(ctx, simserver.RuntimeConfig{
			Port:           cfg.Port,
			DBPath:         cfg.DBPath,
			Timezone:       cfg.Timezone,
			Households:     cfg.Households,
			PoolSize:       cfg.PoolSize,
			PoolOverflow:   cfg.PoolOverflow,
			RecycleAge:     cfg.PoolRecycleAge,
			StageOverrides: cfg.StageOverrides,
			Intervals: scheduler.Intervals{
				SleepWake:        cfg.SleepWakeInterval,
				ClockEvents:      cfg.ClockEventInterval,
				ClockEventsTight: cfg.ClockEventTight,
				CoffeeBreaks:     cfg.CoffeeBreakInterval,
				Enforcement:      cfg.EnforcementInterval,
			},
			ReplayBuffer: cfg.EventReplayBuffer,
		})
	})
}
