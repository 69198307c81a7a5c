package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar-date layout used for validity bounds.
const DateLayout = "2006-01-02"

// ErrInvalidValidity is returned when an upper bound precedes its lower bound.
var ErrInvalidValidity = errors.New("validity upper bound precedes lower bound")

// Date truncates the supplied components to a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC calendar date.
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return t, nil
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return Date(y, m, d)
}

// ValidityRange is the legal validity of a fact. Upper is the last day the fact
// holds (TARIC end date); nil means open ended. The range therefore covers the
// half-open interval [Lower, Upper+1 day).
type ValidityRange struct {
	Lower time.Time
	Upper *time.Time
}

// NewValidityRange constructs a range, rejecting an upper bound before lower.
func NewValidityRange(lower time.Time, upper *time.Time) (ValidityRange, error) {
	r := ValidityRange{Lower: truncateDate(lower)}
	if upper != nil {
		u := truncateDate(*upper)
		r.Upper = &u
	}
	if !r.Valid() {
		return ValidityRange{}, ErrInvalidValidity
	}
	return r, nil
}

// Between is a convenience constructor for tests and fixtures; it panics on an
// inverted range.
func Between(lower time.Time, upper *time.Time) ValidityRange {
	r, err := NewValidityRange(lower, upper)
	if err != nil {
		panic(err)
	}
	return r
}

// From returns an open-ended range starting on lower.
func From(lower time.Time) ValidityRange {
	return ValidityRange{Lower: truncateDate(lower)}
}

// DatePtr returns a pointer to the calendar date.
func DatePtr(year int, month time.Month, day int) *time.Time {
	d := Date(year, month, day)
	return &d
}

// Valid reports whether the upper bound is absent or not before the lower bound.
func (r ValidityRange) Valid() bool {
	return r.Upper == nil || !r.Upper.Before(r.Lower)
}

// IsZero reports whether the range was never set.
func (r ValidityRange) IsZero() bool {
	return r.Lower.IsZero() && r.Upper == nil
}

// OpenEnded reports whether the range has no upper bound.
func (r ValidityRange) OpenEnded() bool { return r.Upper == nil }

// ContainsDate reports whether the date falls within the range.
func (r ValidityRange) ContainsDate(d time.Time) bool {
	d = truncateDate(d)
	if d.Before(r.Lower) {
		return false
	}
	return r.Upper == nil || !d.After(*r.Upper)
}

// Contains reports whether other lies entirely inside r.
func (r ValidityRange) Contains(other ValidityRange) bool {
	if other.Lower.Before(r.Lower) {
		return false
	}
	if r.Upper == nil {
		return true
	}
	if other.Upper == nil {
		return false
	}
	return !other.Upper.After(*r.Upper)
}

// Overlaps reports whether the two ranges share at least one day.
func (r ValidityRange) Overlaps(other ValidityRange) bool {
	if r.Upper != nil && r.Upper.Before(other.Lower) {
		return false
	}
	if other.Upper != nil && other.Upper.Before(r.Lower) {
		return false
	}
	return true
}

// IsAdjacent reports whether one range ends the day before the other starts.
func (r ValidityRange) IsAdjacent(other ValidityRange) bool {
	if r.Upper != nil && r.Upper.AddDate(0, 0, 1).Equal(other.Lower) {
		return true
	}
	return other.Upper != nil && other.Upper.AddDate(0, 0, 1).Equal(r.Lower)
}

// Intersection returns the overlapping part of two ranges.
func (r ValidityRange) Intersection(other ValidityRange) (ValidityRange, bool) {
	if !r.Overlaps(other) {
		return ValidityRange{}, false
	}
	out := ValidityRange{Lower: r.Lower}
	if other.Lower.After(out.Lower) {
		out.Lower = other.Lower
	}
	switch {
	case r.Upper == nil:
		out.Upper = copyDate(other.Upper)
	case other.Upper == nil:
		out.Upper = copyDate(r.Upper)
	case r.Upper.Before(*other.Upper):
		out.Upper = copyDate(r.Upper)
	default:
		out.Upper = copyDate(other.Upper)
	}
	return out, true
}

// WithImplicitEnd substitutes end for a missing upper bound. A nil end or a
// range that already has an upper bound is returned unchanged.
func (r ValidityRange) WithImplicitEnd(end *time.Time) ValidityRange {
	if r.Upper != nil || end == nil {
		return r
	}
	return ValidityRange{Lower: r.Lower, Upper: copyDate(end)}
}

// Equal reports whether both bounds match.
func (r ValidityRange) Equal(other ValidityRange) bool {
	if !r.Lower.Equal(other.Lower) {
		return false
	}
	if r.Upper == nil || other.Upper == nil {
		return r.Upper == nil && other.Upper == nil
	}
	return r.Upper.Equal(*other.Upper)
}

func (r ValidityRange) String() string {
	upper := ""
	if r.Upper != nil {
		upper = r.Upper.Format(DateLayout)
	}
	return fmt.Sprintf("[%s, %s]", r.Lower.Format(DateLayout), upper)
}

type validityJSON struct {
	Lower string  `json:"lower" yaml:"lower"`
	Upper *string `json:"upper,omitempty" yaml:"upper,omitempty"`
}

// MarshalJSON encodes bounds as calendar dates.
func (r ValidityRange) MarshalJSON() ([]byte, error) {
	out := validityJSON{Lower: r.Lower.Format(DateLayout)}
	if r.Upper != nil {
		u := r.Upper.Format(DateLayout)
		out.Upper = &u
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes calendar-date bounds.
func (r *ValidityRange) UnmarshalJSON(data []byte) error {
	var in validityJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	return r.fromStrings(in)
}

// UnmarshalYAML decodes calendar-date bounds from fixture files.
func (r *ValidityRange) UnmarshalYAML(unmarshal func(any) error) error {
	var in validityJSON
	if err := unmarshal(&in); err != nil {
		return err
	}
	return r.fromStrings(in)
}

func (r *ValidityRange) fromStrings(in validityJSON) error {
	lower, err := ParseDate(in.Lower)
	if err != nil {
		return err
	}
	out := ValidityRange{Lower: lower}
	if in.Upper != nil && *in.Upper != "" {
		upper, err := ParseDate(*in.Upper)
		if err != nil {
			return err
		}
		out.Upper = &upper
	}
	if !out.Valid() {
		return ErrInvalidValidity
	}
	*r = out
	return nil
}

func copyDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
