package report

import "errors"

var (
	// ErrInvalidWindow is returned for report types whose window cannot be built,
	// such as a custom range with start >= end or an unsupported hour count
	ErrInvalidWindow = errors.New("invalid report window")

	// ErrUnknownType is returned when a report type name is not recognized
	ErrUnknownType = errors.New("unknown report type")

	// ErrDataUnavailable wraps failures of the task record source
	ErrDataUnavailable = errors.New("task data unavailable")
)
