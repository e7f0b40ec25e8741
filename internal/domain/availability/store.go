package availability

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

const defaultMaxAttempts = 32

// Store materializes per-date availability lazily and performs the
// optimistic read-modify-write that serializes writers on one resource day.
type Store struct {
	repo        Repository
	maxAttempts int
}

// NewStore creates a store on top of repo.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo, maxAttempts: defaultMaxAttempts}
}

// EffectiveHours returns the resource's own hours, else the studio's, else the full day.
func EffectiveHours(res *Resource, studio *Studio) []string {
	var hours []string
	switch {
	case len(res.OperatingHours) > 0:
		hours = append(hours, res.OperatingHours...)
	case studio != nil && len(studio.OperatingHours) > 0:
		hours = append(hours, studio.OperatingHours...)
	default:
		return timeslot.FullDay()
	}
	timeslot.Sort(hours)
	return hours
}

// Load returns the stored day, or an unsaved fully-open day when none exists.
func (s *Store) Load(ctx context.Context, res *Resource, studio *Studio, date string) (*DateAvailability, error) {
	day, err := s.repo.GetDay(ctx, res.ID, date)
	if err != nil {
		return nil, err
	}
	if day != nil {
		return day, nil
	}
	return &DateAvailability{
		ResourceID: res.ID,
		Date:       date,
		Times:      EffectiveHours(res, studio),
	}, nil
}

// MutateFunc computes the new free set from the current one. Returning
// errNoChange skips the write.
type MutateFunc func(current []string) ([]string, error)

var errNoChange = errors.New("no change")

// Mutate applies fn to the resource day and writes the result with a version check,
// retrying on concurrent writers. It reports whether anything was written.
func (s *Store) Mutate(ctx context.Context, res *Resource, studio *Studio, date string, fn MutateFunc) (bool, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		day, err := s.Load(ctx, res, studio, date)
		if err != nil {
			return false, err
		}

		next, err := fn(append([]string(nil), day.Times...))
		if errors.Is(err, errNoChange) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		timeslot.Sort(next)
		day.Times = next
		err = s.repo.SaveDay(ctx, day)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return false, err
		}

		if err := backoff(ctx, attempt); err != nil {
			return false, err
		}
	}
	return false, fmt.Errorf("resource %s on %s: %w", res.ID, date, ErrContention)
}

// Resolve loads a resource and its studio, if any.
func (s *Store) Resolve(ctx context.Context, resourceID uuid.UUID) (*Resource, *Studio, error) {
	res, err := s.repo.GetResource(ctx, resourceID)
	if err != nil {
		return nil, nil, err
	}
	if !res.HasStudio() {
		return res, nil, nil
	}
	studio, err := s.repo.GetStudio(ctx, res.StudioID.UUID)
	if err != nil {
		return nil, nil, err
	}
	return res, studio, nil
}

func backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt)*time.Millisecond + time.Duration(rand.Int63n(int64(2*time.Millisecond)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
