package domain

import "errors"

var (
	// ErrEntityIDRequired indicates an entity is missing its identity.
	ErrEntityIDRequired = errors.New("entity id is required")
	// ErrHouseholdIDRequired indicates an entity is missing its household grouping.
	ErrHouseholdIDRequired = errors.New("household id is required")
	// ErrUnknownEntityKind indicates an unrecognized entity kind.
	ErrUnknownEntityKind = errors.New("unknown entity kind")
	// ErrUnknownTransitionKind indicates a window references a transition the engine cannot apply.
	ErrUnknownTransitionKind = errors.New("unknown transition kind")
	// ErrIDGeneratorNotConfigured indicates the engine is missing an id generator.
	ErrIDGeneratorNotConfigured = errors.New("id generator is not configured")
	// ErrStageCountMismatch indicates a probability override does not match the window's stage count.
	ErrStageCountMismatch = errors.New("stage probability override does not match stage count")
	// ErrUnknownWindow indicates an override references a window that does not exist.
	ErrUnknownWindow = errors.New("unknown window name")
	// ErrInvalidProbability indicates a stage probability outside (0, 1].
	ErrInvalidProbability = errors.New("stage probability must be in (0, 1]")
)
