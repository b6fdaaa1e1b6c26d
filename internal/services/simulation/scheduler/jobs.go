package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mockingbird-labs/minifirm/internal/services/simulation/broadcast"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/domain"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/storage"
)

// breakSpan is how long a coffee break lasts before the entity is sent
// back to work.
const breakSpan = 15 * time.Minute

// commuteSpan is how long the evening commute lasts before the entity
// arrives home.
const commuteSpan = 20 * time.Minute

// Intervals holds per-job tick cadences.
type Intervals struct {
	SleepWake        time.Duration
	ClockEvents      time.Duration
	ClockEventsTight time.Duration
	CoffeeBreaks     time.Duration
	Enforcement      time.Duration
}

// DefaultIntervals returns the stock cadences: sleep/wake and clock
// events every 2 minutes, clock events tightened to 1 minute inside the
// evening departure window, coffee every 5, enforcement every 10.
func DefaultIntervals() Intervals {
	return Intervals{
		SleepWake:        2 * time.Minute,
		ClockEvents:      2 * time.Minute,
		ClockEventsTight: time.Minute,
		CoffeeBreaks:     5 * time.Minute,
		Enforcement:      10 * time.Minute,
	}
}

// Runner binds the transition engine to storage and the broadcaster so
// jobs share one tick shape: load population, run the engine, commit,
// publish.
type Runner struct {
	Store       storage.Store
	Engine      *domain.Engine
	Broadcaster *broadcast.Broadcaster
}

// WindowTick returns a tick func that runs one staggered pass over the
// given window.
func (r *Runner) WindowTick(window domain.Window) func(ctx context.Context, now time.Time) error {
	return func(ctx context.Context, now time.Time) error {
		population, err := r.Store.ListEntities(ctx)
		if err != nil {
			return fmt.Errorf("load population: %w", err)
		}
		result, err := r.Engine.Apply(domain.TickInput{
			Window:     window,
			Now:        now,
			Population: population,
		})
		if err != nil {
			return fmt.Errorf("apply window %s: %w", window.Name, err)
		}
		return r.commit(ctx, result)
	}
}

// CoffeeTick runs the coffee window pass, then sends anyone whose break
// has run its span back to work.
func (r *Runner) CoffeeTick(window domain.Window) func(ctx context.Context, now time.Time) error {
	coffee := r.WindowTick(window)
	return func(ctx context.Context, now time.Time) error {
		if err := coffee(ctx, now); err != nil {
			return err
		}
		return r.returnFromBreak(ctx, now)
	}
}

// backToWorkWindow is always open at probability 1; the population
// filter in returnFromBreak supplies the actual eligibility.
var backToWorkWindow = domain.Window{
	Name:  "back_to_work",
	Kind:  domain.TransitionBackToWork,
	Roles: []domain.RoleClass{domain.RoleManager, domain.RoleIndividualContributor},
	Stages: []domain.Stage{
		{Start: 0, End: 24 * 60, Probability: 1.0},
	},
}

func (r *Runner) returnFromBreak(ctx context.Context, now time.Time) error {
	population, err := r.Store.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("load population: %w", err)
	}

	var expired []domain.Entity
	for _, entity := range population {
		if entity.ActivityState != domain.ActivityOnBreak {
			continue
		}
		startedAt, ok := entity.LastTransitions[domain.TransitionCoffee]
		if !ok || now.Sub(startedAt) >= breakSpan {
			expired = append(expired, entity)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	result, err := r.Engine.Apply(domain.TickInput{
		Window:     backToWorkWindow,
		Now:        now,
		Population: expired,
	})
	if err != nil {
		return fmt.Errorf("return from break: %w", err)
	}
	return r.commit(ctx, result)
}

// DepartureTick runs the evening departure pass, then lands anyone who
// has been commuting for the full commute span back at home.
func (r *Runner) DepartureTick(window domain.Window) func(ctx context.Context, now time.Time) error {
	departure := r.WindowTick(window)
	return func(ctx context.Context, now time.Time) error {
		if err := departure(ctx, now); err != nil {
			return err
		}
		return r.arriveHome(ctx, now)
	}
}

var arriveHomeWindow = domain.Window{
	Name:  "arrive_home",
	Kind:  domain.TransitionArriveHome,
	Roles: []domain.RoleClass{domain.RoleManager, domain.RoleIndividualContributor},
	Stages: []domain.Stage{
		{Start: 0, End: 24 * 60, Probability: 1.0},
	},
}

func (r *Runner) arriveHome(ctx context.Context, now time.Time) error {
	population, err := r.Store.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("load population: %w", err)
	}

	var landed []domain.Entity
	for _, entity := range population {
		if entity.ActivityState != domain.ActivityCommuting {
			continue
		}
		leftAt, ok := entity.LastTransitions[domain.TransitionClockOut]
		if !ok || now.Sub(leftAt) >= commuteSpan {
			landed = append(landed, entity)
		}
	}
	if len(landed) == 0 {
		return nil
	}

	result, err := r.Engine.Apply(domain.TickInput{
		Window:     arriveHomeWindow,
		Now:        now,
		Population: landed,
	})
	if err != nil {
		return fmt.Errorf("arrive home: %w", err)
	}
	return r.commit(ctx, result)
}

// EnforcementTick returns a sweep that corrects contradictory states
// unconditionally.
func (r *Runner) EnforcementTick(policy domain.EnforcementPolicy) func(ctx context.Context, now time.Time) error {
	return func(ctx context.Context, now time.Time) error {
		population, err := r.Store.ListEntities(ctx)
		if err != nil {
			return fmt.Errorf("load population: %w", err)
		}
		result, err := r.Engine.Enforce(policy, now, population)
		if err != nil {
			return fmt.Errorf("enforcement sweep: %w", err)
		}
		return r.commit(ctx, result)
	}
}

func (r *Runner) commit(ctx context.Context, result domain.TickResult) error {
	if len(result.Transitioned) == 0 {
		return nil
	}
	if err := r.Store.CommitTick(ctx, result); err != nil {
		return fmt.Errorf("commit tick: %w", err)
	}
	if r.Broadcaster != nil {
		for _, transition := range result.Transitioned {
			for _, msg := range broadcast.MessagesFromTransition(transition) {
				r.Broadcaster.Publish(msg)
			}
		}
	}
	return nil
}

// BuildJobs assembles the full simulation job set: one staggered job per
// eligibility window, the coffee cycle, and the enforcement sweep. The
// clock-event jobs tighten their cadence while the evening departure
// window is open.
func BuildJobs(runner *Runner, windows []domain.Window, policy domain.EnforcementPolicy, intervals Intervals) ([]Job, error) {
	departure, haveDeparture := domain.FindWindow(windows, domain.WindowEveningDeparture)
	clockEventInterval := func(now time.Time) time.Duration {
		if haveDeparture && departure.Contains(now, domain.RoleManager) {
			return intervals.ClockEventsTight
		}
		return intervals.ClockEvents
	}

	var jobs []Job
	for _, window := range windows {
		switch window.Name {
		case domain.WindowBedtime, domain.WindowEmployeeWake, domain.WindowHouseholdWake:
			jobs = append(jobs, Job{
				Name:     string(window.Name),
				Interval: FixedInterval(intervals.SleepWake),
				Run:      runner.WindowTick(window),
			})
		case domain.WindowMorningArrival:
			jobs = append(jobs, Job{
				Name:     string(window.Name),
				Interval: clockEventInterval,
				Run:      runner.WindowTick(window),
			})
		case domain.WindowEveningDeparture:
			jobs = append(jobs, Job{
				Name:     string(window.Name),
				Interval: clockEventInterval,
				Run:      runner.DepartureTick(window),
			})
		case domain.WindowCoffeeBreak:
			jobs = append(jobs, Job{
				Name:     string(window.Name),
				Interval: FixedInterval(intervals.CoffeeBreaks),
				Run:      runner.CoffeeTick(window),
			})
		default:
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownWindow, window.Name)
		}
	}

	jobs = append(jobs, Job{
		Name:     "enforcement",
		Interval: FixedInterval(intervals.Enforcement),
		Run:      runner.EnforcementTick(policy),
	})
	return jobs, nil
}
