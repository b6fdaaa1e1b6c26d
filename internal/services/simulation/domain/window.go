package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WindowName identifies one eligibility window.
type WindowName string

const (
	WindowBedtime          WindowName = "bedtime"
	WindowEmployeeWake     WindowName = "employee_wake"
	WindowHouseholdWake    WindowName = "household_wake"
	WindowMorningArrival   WindowName = "morning_arrival"
	WindowEveningDeparture WindowName = "evening_departure"
	WindowCoffeeBreak      WindowName = "coffee_break"
)

// Stage is one sub-interval of a window with its own per-tick transition
// probability. Start and End are minutes from local midnight; End may exceed
// 1440 when the stage runs past midnight.
type Stage struct {
	Start       int
	End         int
	Probability float64
}

// Window is a named span of local time during which one transition kind is
// eligible for a class of roles.
type Window struct {
	Name         WindowName
	Kind         TransitionKind
	WeekdaysOnly bool
	Roles        []RoleClass
	Stages       []Stage
}

// Hit is the evaluator's answer: the stage the instant falls in and its
// per-tick probability.
type Hit struct {
	Window      WindowName
	Kind        TransitionKind
	StageIndex  int
	Probability float64
}

const minutesPerDay = 24 * 60

// AppliesTo reports whether the window covers the given role.
func (w Window) AppliesTo(role RoleClass) bool {
	for _, candidate := range w.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// Evaluate maps an instant onto the window's stages. The instant must come
// from the simulation clock so that the local hour is civil, not host-local.
//
// Midnight rollover is explicit: an instant in the early hours matches a
// stage that opened before midnight on the previous day, and day-of-week
// restrictions are checked against the day the window opened.
func (w Window) Evaluate(now time.Time, role RoleClass) (Hit, bool) {
	if !w.AppliesTo(role) {
		return Hit{}, false
	}

	minutes := now.Hour()*60 + now.Minute()

	type candidate struct {
		minutes int
		weekday time.Weekday
	}
	candidates := []candidate{
		{minutes: minutes, weekday: now.Weekday()},
		{minutes: minutes + minutesPerDay, weekday: now.AddDate(0, 0, -1).Weekday()},
	}

	for _, c := range candidates {
		if w.WeekdaysOnly && (c.weekday == time.Saturday || c.weekday == time.Sunday) {
			continue
		}
		for i, stage := range w.Stages {
			if c.minutes >= stage.Start && c.minutes < stage.End {
				return Hit{
					Window:      w.Name,
					Kind:        w.Kind,
					StageIndex:  i,
					Probability: stage.Probability,
				}, true
			}
		}
	}
	return Hit{}, false
}

// Contains reports whether the instant falls anywhere inside the window for
// the given role. Schedulers use it to tighten their cadence while many
// entities are eligible at once.
func (w Window) Contains(now time.Time, role RoleClass) bool {
	_, ok := w.Evaluate(now, role)
	return ok
}

func minute(h, m int) int { return h*60 + m }

// DefaultWindows returns the stock eligibility windows. Per-tick stage
// probabilities compound across ticks inside one stage; faster polling
// shortens effective transition time. That compounding is a contract, not
// an artifact.
func DefaultWindows() []Window {
	everyone := []RoleClass{RoleManager, RoleIndividualContributor, RoleFamily, RolePet}
	employees := []RoleClass{RoleManager, RoleIndividualContributor}
	household := []RoleClass{RoleFamily, RolePet}

	return []Window{
		{
			Name:  WindowBedtime,
			Kind:  TransitionSleep,
			Roles: everyone,
			Stages: []Stage{
				{Start: minute(22, 0), End: minute(22, 30), Probability: 0.30},
				{Start: minute(22, 30), End: minute(23, 0), Probability: 0.40},
				{Start: minute(23, 0), End: minute(23, 30), Probability: 0.20},
				// Final stage runs past midnight into 00:30.
				{Start: minute(23, 30), End: minutesPerDay + minute(0, 30), Probability: 1.00},
			},
		},
		{
			Name:         WindowEmployeeWake,
			Kind:         TransitionWake,
			WeekdaysOnly: true,
			Roles:        employees,
			Stages: []Stage{
				{Start: minute(5, 30), End: minute(6, 0), Probability: 0.40},
				{Start: minute(6, 0), End: minute(6, 30), Probability: 0.50},
				{Start: minute(6, 30), End: minute(6, 45), Probability: 1.00},
			},
		},
		{
			Name:  WindowHouseholdWake,
			Kind:  TransitionWake,
			Roles: household,
			Stages: []Stage{
				{Start: minute(7, 30), End: minute(8, 0), Probability: 0.30},
				{Start: minute(8, 0), End: minute(8, 30), Probability: 0.50},
				{Start: minute(8, 30), End: minute(9, 0), Probability: 1.00},
			},
		},
		{
			Name:         WindowMorningArrival,
			Kind:         TransitionClockIn,
			WeekdaysOnly: true,
			Roles:        employees,
			Stages: []Stage{
				{Start: minute(6, 45), End: minute(7, 0), Probability: 0.30},
				{Start: minute(7, 0), End: minute(7, 30), Probability: 0.60},
				{Start: minute(7, 30), End: minute(7, 45), Probability: 1.00},
			},
		},
		{
			Name:         WindowEveningDeparture,
			Kind:         TransitionClockOut,
			WeekdaysOnly: true,
			Roles:        employees,
			Stages: []Stage{
				{Start: minute(17, 0), End: minute(17, 30), Probability: 0.30},
				{Start: minute(17, 30), End: minute(18, 0), Probability: 0.50},
				{Start: minute(18, 0), End: minute(18, 30), Probability: 1.00},
			},
		},
		{
			Name:         WindowCoffeeBreak,
			Kind:         TransitionCoffee,
			WeekdaysOnly: true,
			Roles:        employees,
			Stages: []Stage{
				{Start: minute(9, 30), End: minute(11, 30), Probability: 0.15},
				{Start: minute(14, 0), End: minute(16, 30), Probability: 0.15},
			},
		},
	}
}

// FindWindow returns the named window from the slice.
func FindWindow(windows []Window, name WindowName) (Window, bool) {
	for _, w := range windows {
		if w.Name == name {
			return w, true
		}
	}
	return Window{}, false
}

// ParseStageOverrides parses a "name=p1,p2,...;name=..." override string
// into per-window stage probabilities.
func ParseStageOverrides(raw string) (map[WindowName][]float64, error) {
	overrides := make(map[WindowName][]float64)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return overrides, nil
	}
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, list, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("override %q: expected name=p1,p2,...", pair)
		}
		var probabilities []float64
		for _, field := range strings.Split(list, ",") {
			value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("override %q: %w", pair, err)
			}
			probabilities = append(probabilities, value)
		}
		overrides[WindowName(strings.TrimSpace(name))] = probabilities
	}
	return overrides, nil
}

// ApplyStageOverrides replaces stage probabilities in-place. Each override
// must name a known window and match its stage count, and every probability
// must be in (0, 1]; startup fails otherwise rather than running with a
// silently ignored policy.
func ApplyStageOverrides(windows []Window, overrides map[WindowName][]float64) error {
	for name, probabilities := range overrides {
		index := -1
		for i, w := range windows {
			if w.Name == name {
				index = i
				break
			}
		}
		if index < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownWindow, name)
		}
		if len(probabilities) != len(windows[index].Stages) {
			return fmt.Errorf("%w: window %s has %d stages, override has %d",
				ErrStageCountMismatch, name, len(windows[index].Stages), len(probabilities))
		}
		for i, p := range probabilities {
			if p <= 0 || p > 1 {
				return fmt.Errorf("%w: window %s stage %d = %v", ErrInvalidProbability, name, i, p)
			}
			windows[index].Stages[i].Probability = p
		}
	}
	return nil
}
