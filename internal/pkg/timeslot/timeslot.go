// Package timeslot implements set operations over hourly slot labels ("00:00".."23:00").
package timeslot

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// HoursPerDay is the size of the label domain. Spans never wrap past midnight.
const HoursPerDay = 24

var (
	ErrInvalidRange = errors.New("invalid slot range")
	ErrInvalidLabel = errors.New("invalid slot label")
)

// Label formats an hour of day as a slot label.
func Label(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}

// Hour parses a slot label into its hour of day.
func Hour(label string) (int, error) {
	if len(label) != 5 || label[2] != ':' || label[3:] != "00" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	h, err := strconv.Atoi(label[:2])
	if err != nil || h < 0 || h >= HoursPerDay {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return h, nil
}

// Valid reports whether label is a well-formed hourly label.
func Valid(label string) bool {
	_, err := Hour(label)
	return err == nil
}

// ValidAll reports whether every label is well-formed.
func ValidAll(labels []string) bool {
	for _, l := range labels {
		if !Valid(l) {
			return false
		}
	}
	return true
}

// Generate returns count consecutive hourly labels starting at start.
func Generate(start string, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidRange, count)
	}
	h, err := Hour(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	if h+count > HoursPerDay {
		return nil, fmt.Errorf("%w: %s + %dh crosses the day boundary", ErrInvalidRange, start, count)
	}

	out := make([]string, count)
	for i := 0; i < count; i++ {
		out[i] = Label(h + i)
	}
	return out, nil
}

// FullDay returns every label of the day in order.
func FullDay() []string {
	out, _ := Generate(Label(0), HoursPerDay)
	return out
}

// Next returns the label one hour after label.
func Next(label string) (string, error) {
	h, err := Hour(label)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	if h+1 >= HoursPerDay {
		return "", fmt.Errorf("%w: no slot after %s", ErrInvalidRange, label)
	}
	return Label(h + 1), nil
}

// Subtract returns current without the labels in remove. Order of current is kept.
func Subtract(current, remove []string) []string {
	drop := toSet(remove)
	out := make([]string, 0, len(current))
	for _, l := range current {
		if _, ok := drop[l]; !ok {
			out = append(out, l)
		}
	}
	return out
}

// Union merges add into current, removes duplicates and sorts by hour.
func Union(current, add []string) []string {
	seen := make(map[string]struct{}, len(current)+len(add))
	out := make([]string, 0, len(current)+len(add))
	for _, src := range [][]string{current, add} {
		for _, l := range src {
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	Sort(out)
	return out
}

// Intersect returns the labels of a that are also in b, in the order of a.
func Intersect(a, b []string) []string {
	in := toSet(b)
	out := make([]string, 0, len(a))
	for _, l := range a {
		if _, ok := in[l]; ok {
			out = append(out, l)
		}
	}
	return out
}

// IsSubset reports whether every label in required is present in available.
func IsSubset(required, available []string) bool {
	have := toSet(available)
	for _, l := range required {
		if _, ok := have[l]; !ok {
			return false
		}
	}
	return true
}

// Sort orders labels ascending by hour in place. Malformed labels sort last.
func Sort(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool {
		return sortKey(labels[i]) < sortKey(labels[j])
	})
}

// Contiguous reports whether labels are non-empty, sorted and one hour apart.
func Contiguous(labels []string) bool {
	if len(labels) == 0 {
		return false
	}
	prev, err := Hour(labels[0])
	if err != nil {
		return false
	}
	for _, l := range labels[1:] {
		h, err := Hour(l)
		if err != nil || h != prev+1 {
			return false
		}
		prev = h
	}
	return true
}

// Equal reports whether a and b hold the same labels regardless of order.
func Equal(a, b []string) bool {
	return len(toSet(a)) == len(toSet(b)) && IsSubset(a, b) && IsSubset(b, a)
}

func sortKey(label string) int {
	h, err := Hour(label)
	if err != nil {
		return HoursPerDay
	}
	return h
}

func toSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return set
}
