// Package storage persists completed workouts and computes history statistics.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidWorkout is returned for records that can't be attributed or have negative values
	ErrInvalidWorkout = errors.New("invalid workout")
	// ErrEmptyFilter is returned when history is requested without subject or wallet
	ErrEmptyFilter = errors.New("history filter needs subject or wallet")
)

// Workout is one completed tracking session
type Workout struct {
	ID              string    `json:"id" yaml:"id"`
	SubjectID       string    `json:"subjectId" yaml:"subject_id"`
	WalletAddress   string    `json:"walletAddress,omitempty" yaml:"wallet_address,omitempty"`
	RepCount        int       `json:"repCount" yaml:"rep_count"`
	DurationSeconds int       `json:"durationSeconds" yaml:"duration_seconds"`
	UsedCamera      bool      `json:"usedCamera" yaml:"used_camera"`
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
}

// Filter selects history records. Empty fields match anything, but at least one must be set
type Filter struct {
	SubjectID     string
	WalletAddress string
	// Zero means no limit
	Limit int
}

func (f Filter) matches(w Workout) bool {
	if f.SubjectID != "" && w.SubjectID != f.SubjectID {
		return false
	}
	if f.WalletAddress != "" && w.WalletAddress != f.WalletAddress {
		return false
	}
	return true
}

// Store defines the interface for persisting workouts
type Store interface {
	// SaveWorkout stores record and returns its identifier
	SaveWorkout(ctx context.Context, workout Workout) (string, error)

	// History returns matching records, newest first
	History(ctx context.Context, filter Filter) ([]Workout, error)

	// Close releases underlying resources
	Close() error
}

// prepare validates record and fills ID and Timestamp when missing
func prepare(workout Workout, now time.Time) (Workout, error) {
	if workout.SubjectID == "" && workout.WalletAddress == "" {
		return workout, errors.Wrap(ErrInvalidWorkout, "subject or wallet required")
	}
	if workout.RepCount < 0 || workout.DurationSeconds < 0 {
		return workout, errors.Wrapf(ErrInvalidWorkout, "negative values: reps=%d duration=%d", workout.RepCount, workout.DurationSeconds)
	}
	if workout.ID == "" {
		workout.ID = uuid.New().String()
	}
	if workout.Timestamp.IsZero() {
		workout.Timestamp = now
	}
	workout.Timestamp = workout.Timestamp.UTC()
	return workout, nil
}

func validateFilter(filter Filter) error {
	if filter.SubjectID == "" && filter.WalletAddress == "" {
		return ErrEmptyFilter
	}
	return nil
}
