package domain

import "time"

// EnforcementPolicy is the terminal safety net behind the staggered windows.
// When an entity is found in a contradictory state well past a deadline, the
// policy recommends an unconditional corrective transition so a missed
// scheduler tick can never strand the population.
//
// Thresholds are configurable policy, expressed in minutes past local
// midnight, not hidden constants.
type EnforcementPolicy struct {
	// ForceAsleepFrom / ForceAsleepUntil bound the overnight span in which
	// a still-awake entity is put to sleep outright.
	ForceAsleepFrom  int
	ForceAsleepUntil int
	// EmployeeWakeDeadline forces sleeping employees awake on weekdays.
	EmployeeWakeDeadline int
	// HouseholdWakeDeadline forces everyone else (and employees on
	// weekends) awake.
	HouseholdWakeDeadline int
	// BedtimeOpens stops wake enforcement once the next bedtime window is open.
	BedtimeOpens int
}

// DefaultEnforcementPolicy returns the stock thresholds.
func DefaultEnforcementPolicy() EnforcementPolicy {
	return EnforcementPolicy{
		ForceAsleepFrom:       minute(0, 45),
		ForceAsleepUntil:      minute(5, 0),
		EmployeeWakeDeadline:  minute(7, 0),
		HouseholdWakeDeadline: minute(9, 30),
		BedtimeOpens:          minute(22, 0),
	}
}

// Correction is one recommended unconditional transition.
type Correction struct {
	Kind   TransitionKind
	Reason string
}

// Evaluate flags a contradiction for one entity at the given instant. It
// returns false when the entity's state is consistent with the time of day.
func (p EnforcementPolicy) Evaluate(now time.Time, entity Entity) (Correction, bool) {
	// A working entity can never be asleep, whatever the hour.
	if entity.ActivityState == ActivityWorking && entity.SleepState == SleepSleeping {
		return Correction{Kind: TransitionWake, Reason: "working while sleeping"}, true
	}

	minutes := now.Hour()*60 + now.Minute()
	weekend := now.Weekday() == time.Saturday || now.Weekday() == time.Sunday

	if entity.SleepState != SleepSleeping &&
		minutes >= p.ForceAsleepFrom && minutes < p.ForceAsleepUntil {
		return Correction{Kind: TransitionSleep, Reason: "awake past sleep deadline"}, true
	}

	wakeDeadline := p.HouseholdWakeDeadline
	if entity.RoleClass.IsEmployee() && !weekend {
		wakeDeadline = p.EmployeeWakeDeadline
	}
	if entity.SleepState == SleepSleeping &&
		minutes >= wakeDeadline && minutes < p.BedtimeOpens {
		return Correction{Kind: TransitionWake, Reason: "asleep past wake deadline"}, true
	}

	return Correction{}, false
}
