// Package seed bootstraps the simulation population: households of one
// anchor employee plus family members and pets. Seeding runs once, only
// when the entity table is empty.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/mockingbird-labs/minifirm/internal/platform/id"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/domain"
)

// Store is the slice of persistence seeding needs.
type Store interface {
	CountEntities(ctx context.Context) (int, error)
	InsertEntities(ctx context.Context, entities []domain.Entity) error
}

var employeeNames = []string{
	"Alice Morgan", "Ben Castillo", "Carmen Osei", "Devon Park",
	"Elena Rossi", "Felix Tran", "Grace Liu", "Hugo Bennett",
	"Iris Nakamura", "Jonah Reyes", "Kira Adebayo", "Leo Fontaine",
}

var familyNames = []string{
	"Maya", "Noah", "Olive", "Priya", "Quinn", "Rowan",
	"Sofia", "Theo", "Uma", "Victor", "Willa", "Xavi",
}

var petNames = []string{
	"Biscuit", "Clover", "Dash", "Ember", "Fig", "Gus",
	"Hazel", "Ivy", "Juniper", "Koda", "Luna", "Mochi",
}

// Population builds a deterministic population of the given household
// count. The same seed always yields the same names, roles, and
// household shapes; only the ids differ.
func Population(households int, seed int64, now time.Time) ([]domain.Entity, error) {
	if households <= 0 {
		return nil, fmt.Errorf("household count must be greater than zero")
	}

	rng := rand.New(rand.NewSource(seed))
	var entities []domain.Entity

	for i := 0; i < households; i++ {
		householdID, err := id.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate household id: %w", err)
		}

		role := domain.RoleIndividualContributor
		// Roughly one manager per four households.
		if rng.Intn(4) == 0 {
			role = domain.RoleManager
		}
		anchor, err := newEntity(domain.KindEmployee, employeeNames[i%len(employeeNames)], householdID, role, now)
		if err != nil {
			return nil, err
		}
		entities = append(entities, anchor)

		for f := 0; f < rng.Intn(3); f++ {
			member, err := newEntity(domain.KindFamilyMember, familyNames[rng.Intn(len(familyNames))], householdID, domain.RoleFamily, now)
			if err != nil {
				return nil, err
			}
			entities = append(entities, member)
		}

		if rng.Intn(2) == 0 {
			pet, err := newEntity(domain.KindPet, petNames[rng.Intn(len(petNames))], householdID, domain.RolePet, now)
			if err != nil {
				return nil, err
			}
			entities = append(entities, pet)
		}
	}

	return entities, nil
}

func newEntity(kind domain.EntityKind, name, householdID string, role domain.RoleClass, now time.Time) (domain.Entity, error) {
	entityID, err := id.NewID()
	if err != nil {
		return domain.Entity{}, fmt.Errorf("generate entity id: %w", err)
	}
	return domain.Entity{
		ID:              entityID,
		Kind:            kind,
		Name:            name,
		HouseholdID:     householdID,
		RoleClass:       role,
		SleepState:      domain.SleepAwake,
		ActivityState:   domain.ActivityAtHome,
		Location:        domain.LocationHome,
		LastTransitions: make(map[domain.TransitionKind]time.Time),
		UpdatedAt:       now,
	}, nil
}

// EnsurePopulation seeds the store when it is empty and reports how many
// entities were inserted. A populated store is left untouched.
func EnsurePopulation(ctx context.Context, store Store, households int, seed int64, now time.Time) (int, error) {
	count, err := store.CountEntities(ctx)
	if err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	entities, err := Population(households, seed, now)
	if err != nil {
		return 0, err
	}
	if err := store.InsertEntities(ctx, entities); err != nil {
		return 0, fmt.Errorf("insert population: %w", err)
	}
	return len(entities), nil
}
