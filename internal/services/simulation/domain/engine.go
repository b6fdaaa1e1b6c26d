package domain

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mockingbird-labs/minifirm/internal/platform/id"
)

// Engine applies staggered probabilistic transitions to a population.
//
// Draws are independent per tick per entity, not per window: an entity
// evaluated across three ticks inside one stage has three independent
// draws, so the effective within-stage probability compounds. Steeper
// staggering under faster polling is intended behavior.
type Engine struct {
	mu    sync.Mutex
	draw  func() float64
	newID func() (string, error)
}

// NewEngine returns an engine seeded for reproducible draws. A nil id
// generator falls back to the platform generator.
func NewEngine(seed int64, newID func() (string, error)) *Engine {
	if newID == nil {
		newID = id.NewID
	}
	return &Engine{
		draw:  rand.New(rand.NewSource(seed)).Float64,
		newID: newID,
	}
}

// TickInput is one scheduler pass over a window.
type TickInput struct {
	Window Window
	// Now must come from the simulation clock.
	Now time.Time
	// Population holds the candidate entities for this window.
	Population []Entity
	// Households indexes co-members by household id for sleep cascades.
	// When nil it is derived from Population.
	Households map[string][]Entity
}

// Transition is one committed state change with its log rows.
type Transition struct {
	Entity      Entity
	Cascaded    []Entity
	Entries     []ActivityEntry
	ClockEvents []ClockEvent
}

// TickResult reports what one engine pass changed.
type TickResult struct {
	Transitioned []Transition
	SkippedIDs   []string
}

// TransitionedIDs lists every entity mutated this pass, cascades included.
func (r TickResult) TransitionedIDs() []string {
	var ids []string
	for _, t := range r.Transitioned {
		ids = append(ids, t.Entity.ID)
		for _, cascaded := range t.Cascaded {
			ids = append(ids, cascaded.ID)
		}
	}
	return ids
}

// Apply runs one staggered pass. Per entity it skips when the target state
// is already satisfied, skips when the transition's cooldown has not
// elapsed, rolls one draw against the stage probability, and on success
// mutates the entity plus household co-members for sleep transitions.
// Applying the same pass twice in a row transitions nobody the second time.
func (e *Engine) Apply(input TickInput) (TickResult, error) {
	if e == nil || e.newID == nil {
		return TickResult{}, ErrIDGeneratorNotConfigured
	}

	households := input.Households
	if households == nil {
		households = GroupByHousehold(input.Population)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var result TickResult
	// Overlay of entities already mutated this pass, so a cascaded family
	// member later in the slice is seen in its post-cascade state.
	updated := make(map[string]Entity)

	for _, original := range input.Population {
		entity := original
		if overlay, ok := updated[entity.ID]; ok {
			entity = overlay
		}

		hit, ok := input.Window.Evaluate(input.Now, entity.RoleClass)
		if !ok {
			result.SkippedIDs = append(result.SkippedIDs, entity.ID)
			continue
		}
		if satisfied(entity, hit.Kind) || !eligible(entity, hit.Kind) {
			result.SkippedIDs = append(result.SkippedIDs, entity.ID)
			continue
		}
		if !cooldownElapsed(entity, hit.Kind, input.Now) {
			result.SkippedIDs = append(result.SkippedIDs, entity.ID)
			continue
		}
		if e.draw() >= hit.Probability {
			// Failed draw: unchanged this tick, eligible again next tick.
			result.SkippedIDs = append(result.SkippedIDs, entity.ID)
			continue
		}

		transition, err := e.transition(entity, hit.Kind, input.Now, households, updated)
		if err != nil {
			return TickResult{}, err
		}
		result.Transitioned = append(result.Transitioned, transition)
	}

	return result, nil
}

// Enforce applies unconditional corrective transitions recommended by the
// policy. Idempotent skips still apply, so racing an enforcement pass
// against a staggered pass is safe: the second writer observes the
// already-corrected state and no-ops.
func (e *Engine) Enforce(policy EnforcementPolicy, now time.Time, population []Entity) (TickResult, error) {
	if e == nil || e.newID == nil {
		return TickResult{}, ErrIDGeneratorNotConfigured
	}

	households := GroupByHousehold(population)

	e.mu.Lock()
	defer e.mu.Unlock()

	var result TickResult
	updated := make(map[string]Entity)

	for _, original := range population {
		entity := original
		if overlay, ok := updated[entity.ID]; ok {
			entity = overlay
		}

		correction, ok := policy.Evaluate(now, entity)
		if !ok || satisfied(entity, correction.Kind) {
			result.SkippedIDs = append(result.SkippedIDs, entity.ID)
			continue
		}

		transition, err := e.transition(entity, correction.Kind, now, households, updated)
		if err != nil {
			return TickResult{}, err
		}
		for i := range transition.Entries {
			transition.Entries[i].Description += " (enforced: " + correction.Reason + ")"
		}
		result.Transitioned = append(result.Transitioned, transition)
	}

	return result, nil
}

func (e *Engine) transition(entity Entity, kind TransitionKind, now time.Time, households map[string][]Entity, updated map[string]Entity) (Transition, error) {
	mutated := entity.Clone()
	description, err := applyKind(&mutated, kind, now)
	if err != nil {
		return Transition{}, err
	}
	updated[mutated.ID] = mutated

	entry, err := e.newEntry(mutated.ID, kind, description, now)
	if err != nil {
		return Transition{}, err
	}
	transition := Transition{Entity: mutated, Entries: []ActivityEntry{entry}}

	if kind == TransitionSleep && entity.Kind == KindEmployee {
		cascaded, entries, err := e.cascadeSleep(entity, now, households, updated)
		if err != nil {
			return Transition{}, err
		}
		transition.Cascaded = cascaded
		transition.Entries = append(transition.Entries, entries...)
	}

	if entity.RoleClass.IsEmployee() {
		events, err := e.clockEvents(mutated, kind, now)
		if err != nil {
			return Transition{}, err
		}
		transition.ClockEvents = events
	}

	return transition, nil
}

// cascadeSleep puts every household co-member of a sleeping anchor employee
// to sleep within the same transition.
func (e *Engine) cascadeSleep(anchor Entity, now time.Time, households map[string][]Entity, updated map[string]Entity) ([]Entity, []ActivityEntry, error) {
	var cascaded []Entity
	var entries []ActivityEntry

	for _, member := range households[anchor.HouseholdID] {
		if member.ID == anchor.ID {
			continue
		}
		if overlay, ok := updated[member.ID]; ok {
			member = overlay
		}
		if member.SleepState == SleepSleeping {
			continue
		}

		mutated := member.Clone()
		if _, err := applyKind(&mutated, TransitionSleep, now); err != nil {
			return nil, nil, err
		}
		updated[mutated.ID] = mutated

		entry, err := e.newEntry(mutated.ID, TransitionSleep, "went to sleep with the household", now)
		if err != nil {
			return nil, nil, err
		}
		cascaded = append(cascaded, mutated)
		entries = append(entries, entry)
	}

	return cascaded, entries, nil
}

func (e *Engine) newEntry(entityID string, kind TransitionKind, description string, now time.Time) (ActivityEntry, error) {
	entryID, err := e.newID()
	if err != nil {
		return ActivityEntry{}, fmt.Errorf("generate activity entry id: %w", err)
	}
	return ActivityEntry{
		ID:          entryID,
		EntityID:    entityID,
		Kind:        kind,
		Description: description,
		CreatedAt:   now,
	}, nil
}

func (e *Engine) clockEvents(entity Entity, kind TransitionKind, now time.Time) ([]ClockEvent, error) {
	var types []ClockEventType
	switch kind {
	case TransitionClockIn:
		types = []ClockEventType{ClockEventLeftHome, ClockEventClockIn}
	case TransitionClockOut:
		types = []ClockEventType{ClockEventClockOut}
	case TransitionArriveHome:
		types = []ClockEventType{ClockEventArrivedHome}
	default:
		return nil, nil
	}

	locations := map[ClockEventType]string{
		ClockEventLeftHome:    LocationHome,
		ClockEventClockIn:     LocationOffice,
		ClockEventClockOut:    LocationOffice,
		ClockEventArrivedHome: LocationHome,
	}

	events := make([]ClockEvent, 0, len(types))
	for _, eventType := range types {
		eventID, err := e.newID()
		if err != nil {
			return nil, fmt.Errorf("generate clock event id: %w", err)
		}
		events = append(events, ClockEvent{
			ID:         eventID,
			EmployeeID: entity.ID,
			EventType:  eventType,
			Location:   locations[eventType],
			CreatedAt:  now,
		})
	}
	return events, nil
}

// satisfied reports whether the entity is already in the transition's
// target state; re-applying a pass therefore transitions nobody twice.
func satisfied(entity Entity, kind TransitionKind) bool {
	switch kind {
	case TransitionSleep:
		return entity.SleepState == SleepSleeping
	case TransitionWake:
		return entity.SleepState == SleepAwake
	case TransitionClockIn:
		return entity.ActivityState == ActivityWorking
	case TransitionClockOut:
		return entity.ActivityState == ActivityCommuting
	case TransitionCoffee:
		return entity.ActivityState == ActivityOnBreak
	case TransitionBackToWork:
		return entity.ActivityState == ActivityWorking
	case TransitionArriveHome:
		return entity.ActivityState == ActivityAtHome
	default:
		return false
	}
}

// eligible reports whether the entity's current state permits the transition.
func eligible(entity Entity, kind TransitionKind) bool {
	switch kind {
	case TransitionSleep:
		return true
	case TransitionWake:
		return entity.SleepState != SleepAwake
	case TransitionClockIn:
		return entity.RoleClass.IsEmployee() &&
			entity.SleepState == SleepAwake &&
			(entity.ActivityState == ActivityAtHome || entity.ActivityState == ActivityCommuting)
	case TransitionClockOut:
		return entity.ActivityState == ActivityWorking || entity.ActivityState == ActivityOnBreak
	case TransitionCoffee:
		return entity.ActivityState == ActivityWorking
	case TransitionBackToWork:
		return entity.ActivityState == ActivityOnBreak
	case TransitionArriveHome:
		return entity.ActivityState == ActivityCommuting
	default:
		return false
	}
}

// MinCooldown returns the minimum gap between two transitions of one kind
// for a role. Clock events use per-calendar-day idempotency instead.
func MinCooldown(kind TransitionKind, role RoleClass) time.Duration {
	switch kind {
	case TransitionSleep, TransitionWake:
		return 6 * time.Hour
	case TransitionCoffee:
		if role == RoleManager {
			return 3 * time.Hour
		}
		return 2 * time.Hour
	default:
		return 0
	}
}

func cooldownElapsed(entity Entity, kind TransitionKind, now time.Time) bool {
	lastAt, ok := entity.LastTransitions[kind]
	if !ok {
		return true
	}

	// Clock-in and clock-out are idempotent per calendar day.
	if kind == TransitionClockIn || kind == TransitionClockOut {
		ly, lm, ld := lastAt.In(now.Location()).Date()
		ny, nm, nd := now.Date()
		return !(ly == ny && lm == nm && ld == nd)
	}

	cooldown := MinCooldown(kind, entity.RoleClass)
	if cooldown <= 0 {
		return true
	}
	return now.Sub(lastAt) >= cooldown
}

func applyKind(entity *Entity, kind TransitionKind, now time.Time) (string, error) {
	var description string
	switch kind {
	case TransitionSleep:
		entity.SleepState = SleepSleeping
		entity.ActivityState = ActivitySleeping
		entity.Location = LocationHome
		description = "fell asleep"
	case TransitionWake:
		entity.SleepState = SleepAwake
		entity.ActivityState = ActivityAtHome
		entity.Location = LocationHome
		description = "woke up"
	case TransitionClockIn:
		entity.ActivityState = ActivityWorking
		entity.Location = LocationOffice
		description = "arrived at the office and clocked in"
	case TransitionClockOut:
		entity.ActivityState = ActivityCommuting
		entity.Location = LocationCommute
		description = "clocked out and left the office"
	case TransitionCoffee:
		entity.ActivityState = ActivityOnBreak
		entity.Location = LocationBreakRoom
		description = "stepped out for a coffee break"
	case TransitionBackToWork:
		entity.ActivityState = ActivityWorking
		entity.Location = LocationOffice
		description = "returned from break"
	case TransitionArriveHome:
		entity.ActivityState = ActivityAtHome
		entity.Location = LocationHome
		description = "arrived home"
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTransitionKind, kind)
	}

	if entity.LastTransitions == nil {
		entity.LastTransitions = make(map[TransitionKind]time.Time)
	}
	entity.LastTransitions[kind] = now
	entity.UpdatedAt = now
	return description, nil
}
