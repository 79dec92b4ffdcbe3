package timewindow

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyWindow is returned when a window's start is not before its end
var ErrEmptyWindow = errors.New("window start must be before end")

// Window is a half-open time range [Start, End)
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New builds a window and rejects empty or inverted ranges
func New(start, end time.Time) (Window, error) {
	w := Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate checks the Start < End invariant
func (w Window) Validate() error {
	if !w.Start.Before(w.End) {
		return fmt.Errorf("%w: [%s, %s)", ErrEmptyWindow, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t falls inside [Start, End)
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns End - Start
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// In returns the same window expressed in loc
func (w Window) In(loc *time.Location) Window {
	return Window{Start: w.Start.In(loc), End: w.End.In(loc)}
}

// Completed reports whether the whole window lies before now
func (w Window) Completed(now time.Time) bool {
	return !w.End.After(now)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
