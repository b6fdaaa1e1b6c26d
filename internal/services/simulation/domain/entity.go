// Package domain holds the simulation state model: entities, eligibility
// windows, and the staggered transition engine that moves the population
// through its daily rhythm.
package domain

import (
	"strings"
	"time"
)

// EntityKind distinguishes the simulated population types.
type EntityKind string

const (
	KindEmployee     EntityKind = "employee"
	KindFamilyMember EntityKind = "family_member"
	KindPet          EntityKind = "pet"
)

// SleepState tracks where an entity is in its sleep cycle.
type SleepState string

const (
	SleepAwake    SleepState = "awake"
	SleepInBed    SleepState = "in_bed"
	SleepSleeping SleepState = "sleeping"
)

// ActivityState tracks what an entity is currently doing.
type ActivityState string

const (
	ActivityAtHome    ActivityState = "at_home"
	ActivitySleeping  ActivityState = "sleeping"
	ActivityCommuting ActivityState = "commuting"
	ActivityWorking   ActivityState = "working"
	ActivityOnBreak   ActivityState = "on_break"
	ActivityInMeeting ActivityState = "in_meeting"
	ActivityTraining  ActivityState = "training"
	ActivityWalking   ActivityState = "walking"
)

// RoleClass selects stricter or looser eligibility windows for an entity.
type RoleClass string

const (
	RoleManager               RoleClass = "manager"
	RoleIndividualContributor RoleClass = "individual_contributor"
	RoleFamily                RoleClass = "family"
	RolePet                   RoleClass = "pet"
)

// IsEmployee reports whether the role clocks in and out of the office.
func (r RoleClass) IsEmployee() bool {
	return r == RoleManager || r == RoleIndividualContributor
}

// TransitionKind names one class of state transition. Cooldowns and
// last-transition timestamps are keyed by it.
type TransitionKind string

const (
	TransitionSleep      TransitionKind = "sleep"
	TransitionWake       TransitionKind = "wake"
	TransitionClockIn    TransitionKind = "clock_in"
	TransitionClockOut   TransitionKind = "clock_out"
	TransitionCoffee     TransitionKind = "coffee_break"
	TransitionBackToWork TransitionKind = "back_to_work"
	TransitionArriveHome TransitionKind = "arrive_home"
)

// MovesLocation reports whether the transition changes where the entity is,
// which observers render differently from plain activity changes.
func (k TransitionKind) MovesLocation() bool {
	switch k {
	case TransitionClockIn, TransitionClockOut, TransitionArriveHome, TransitionCoffee, TransitionBackToWork:
		return true
	default:
		return false
	}
}

// Named locations used by transitions.
const (
	LocationHome      = "home"
	LocationOffice    = "office"
	LocationCommute   = "commute"
	LocationBreakRoom = "break room"
)

// Entity is one simulated person or pet. State fields mutate continuously
// under scheduler control; identity fields are fixed at bootstrap.
type Entity struct {
	ID              string
	Kind            EntityKind
	Name            string
	HouseholdID     string
	RoleClass       RoleClass
	SleepState      SleepState
	ActivityState   ActivityState
	Location        string
	LastTransitions map[TransitionKind]time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy so engine mutations never alias the caller's
// transition map.
func (e Entity) Clone() Entity {
	clone := e
	clone.LastTransitions = make(map[TransitionKind]time.Time, len(e.LastTransitions))
	for kind, at := range e.LastTransitions {
		clone.LastTransitions[kind] = at
	}
	return clone
}

// Validate checks identity fields required before persisting an entity.
func (e Entity) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrEntityIDRequired
	}
	if strings.TrimSpace(e.HouseholdID) == "" {
		return ErrHouseholdIDRequired
	}
	switch e.Kind {
	case KindEmployee, KindFamilyMember, KindPet:
	default:
		return ErrUnknownEntityKind
	}
	return nil
}

// ActivityEntry is one immutable activity log row.
type ActivityEntry struct {
	ID          string
	EntityID    string
	Kind        TransitionKind
	Description string
	CreatedAt   time.Time
}

// ClockEventType enumerates attendance events kept separate from the
// general activity feed.
type ClockEventType string

const (
	ClockEventClockIn     ClockEventType = "clock_in"
	ClockEventClockOut    ClockEventType = "clock_out"
	ClockEventLeftHome    ClockEventType = "left_home"
	ClockEventArrivedHome ClockEventType = "arrived_home"
)

// ClockEvent is one attendance history row for an employee.
type ClockEvent struct {
	ID         string
	EmployeeID string
	EventType  ClockEventType
	Location   string
	CreatedAt  time.Time
}

// GroupByHousehold indexes a population by household id so sleep cascades
// can reach co-members in one pass.
func GroupByHousehold(population []Entity) map[string][]Entity {
	households := make(map[string][]Entity)
	for _, entity := range population {
		households[entity.HouseholdID] = append(households[entity.HouseholdID], entity)
	}
	return households
}
