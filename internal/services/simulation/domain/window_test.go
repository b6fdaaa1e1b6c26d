package domain

import (
	"errors"
	"testing"
	"time"
)

// 2026-09-01 is a Tuesday.
func tuesdayAt(hour, min int) time.Time {
	return time.Date(2026, 9, 1, hour, min, 0, 0, time.UTC)
}

func TestBedtimeStageMapping(t *testing.T) {
	t.Parallel()

	bedtime, ok := FindWindow(DefaultWindows(), WindowBedtime)
	if !ok {
		t.Fatal("bedtime window missing")
	}

	cases := []struct {
		name        string
		now         time.Time
		wantStage   int
		wantProb    float64
		wantEligble bool
	}{
		{"before open", tuesdayAt(21, 59), 0, 0, false},
		{"stage one", tuesdayAt(22, 5), 0, 0.30, true},
		{"stage two", tuesdayAt(22, 45), 1, 0.40, true},
		{"stage three", tuesdayAt(23, 10), 2, 0.20, true},
		{"final stage", tuesdayAt(23, 45), 3, 1.00, true},
		{"past midnight still final stage", time.Date(2026, 9, 2, 0, 5, 0, 0, time.UTC), 3, 1.00, true},
		{"after close", time.Date(2026, 9, 2, 0, 31, 0, 0, time.UTC), 0, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hit, ok := bedtime.Evaluate(tc.now, RoleIndividualContributor)
			if ok != tc.wantEligble {
				t.Fatalf("eligible = %v, want %v", ok, tc.wantEligble)
			}
			if !ok {
				return
			}
			if hit.StageIndex != tc.wantStage {
				t.Fatalf("stage = %d, want %d", hit.StageIndex, tc.wantStage)
			}
			if hit.Probability != tc.wantProb {
				t.Fatalf("probability = %v, want %v", hit.Probability, tc.wantProb)
			}
			if hit.Kind != TransitionSleep {
				t.Fatalf("kind = %s, want sleep", hit.Kind)
			}
		})
	}
}

func TestEmployeeWakeSkipsWeekends(t *testing.T) {
	t.Parallel()

	wake, ok := FindWindow(DefaultWindows(), WindowEmployeeWake)
	if !ok {
		t.Fatal("employee wake window missing")
	}

	saturday := time.Date(2026, 9, 5, 5, 45, 0, 0, time.UTC)
	if _, ok := wake.Evaluate(saturday, RoleManager); ok {
		t.Fatal("expected no employee wake window on Saturday")
	}

	monday := time.Date(2026, 8, 31, 5, 45, 0, 0, time.UTC)
	hit, ok := wake.Evaluate(monday, RoleManager)
	if !ok {
		t.Fatal("expected employee wake window on Monday")
	}
	if hit.StageIndex != 0 || hit.Probability != 0.40 {
		t.Fatalf("unexpected hit %+v", hit)
	}
}

func TestWindowRoleGating(t *testing.T) {
	t.Parallel()

	householdWake, ok := FindWindow(DefaultWindows(), WindowHouseholdWake)
	if !ok {
		t.Fatal("household wake window missing")
	}

	if _, ok := householdWake.Evaluate(tuesdayAt(8, 15), RoleManager); ok {
		t.Fatal("household wake must not apply to managers")
	}
	hit, ok := householdWake.Evaluate(tuesdayAt(8, 15), RolePet)
	if !ok {
		t.Fatal("expected household wake for pets")
	}
	if hit.Probability != 0.50 {
		t.Fatalf("probability = %v, want 0.50", hit.Probability)
	}
}

func TestRolloverChecksDayWindowOpened(t *testing.T) {
	t.Parallel()

	// Synthetic weekday-only window crossing midnight: day-of-week gating
	// must follow the day the window opened, not the day after midnight.
	window := Window{
		Name:         "late_shift",
		Kind:         TransitionSleep,
		WeekdaysOnly: true,
		Roles:        []RoleClass{RoleIndividualContributor},
		Stages: []Stage{
			{Start: minute(23, 30), End: minutesPerDay + minute(0, 30), Probability: 1.0},
		},
	}

	// Saturday 00:15 belongs to Friday's window.
	saturdayEarly := time.Date(2026, 9, 5, 0, 15, 0, 0, time.UTC)
	if _, ok := window.Evaluate(saturdayEarly, RoleIndividualContributor); !ok {
		t.Fatal("expected hit: window opened on Friday")
	}

	// Sunday 00:15 belongs to Saturday's window, which never opened.
	sundayEarly := time.Date(2026, 9, 6, 0, 15, 0, 0, time.UTC)
	if _, ok := window.Evaluate(sundayEarly, RoleIndividualContributor); ok {
		t.Fatal("expected no hit: window would have opened on Saturday")
	}
}

func TestParseStageOverrides(t *testing.T) {
	t.Parallel()

	overrides, err := ParseStageOverrides("bedtime=0.1,0.2,0.3,1.0; employee_wake=0.5,0.5,1.0")
	if err != nil {
		t.Fatalf("parse overrides: %v", err)
	}
	if len(overrides) != 2 {
		t.Fatalf("expected 2 overrides, got %d", len(overrides))
	}
	if got := overrides[WindowBedtime]; len(got) != 4 || got[0] != 0.1 {
		t.Fatalf("unexpected bedtime override %v", got)
	}

	if _, err := ParseStageOverrides("bedtime:0.1"); err == nil {
		t.Fatal("expected error for malformed override")
	}
	if _, err := ParseStageOverrides("bedtime=abc"); err == nil {
		t.Fatal("expected error for non-numeric probability")
	}
}

func TestApplyStageOverrides(t *testing.T) {
	t.Parallel()

	windows := DefaultWindows()
	err := ApplyStageOverrides(windows, map[WindowName][]float64{
		WindowBedtime: {0.1, 0.2, 0.3, 1.0},
	})
	if err != nil {
		t.Fatalf("apply overrides: %v", err)
	}
	bedtime, _ := FindWindow(windows, WindowBedtime)
	if bedtime.Stages[0].Probability != 0.1 {
		t.Fatalf("override not applied: %v", bedtime.Stages[0].Probability)
	}

	if err := ApplyStageOverrides(windows, map[WindowName][]float64{"nope": {1}}); !errors.Is(err, ErrUnknownWindow) {
		t.Fatalf("expected ErrUnknownWindow, got %v", err)
	}
	if err := ApplyStageOverrides(windows, map[WindowName][]float64{WindowBedtime: {1}}); !errors.Is(err, ErrStageCountMismatch) {
		t.Fatalf("expected ErrStageCountMismatch, got %v", err)
	}
	if err := ApplyStageOverrides(windows, map[WindowName][]float64{WindowBedtime: {0, 0.2, 0.3, 1}}); !errors.Is(err, ErrInvalidProbability) {
		t.Fatalf("expected ErrInvalidProbability, got %v", err)
	}
}
