package hydro

import "errors"

var (
	// ErrInvertedWindow is returned when a query window does not satisfy start < end.
	ErrInvertedWindow = errors.New("grid: start must be before end")
	// ErrEmptyGrid is returned when a window produces no grid timestamps.
	ErrEmptyGrid = errors.New("grid: window produces no timestamps")
	// ErrUnknownInterval is returned for interval tokens the grid cannot step.
	ErrUnknownInterval = errors.New("unknown interval")

	// ErrInvalidRequest is returned when no request item survives filtering
	// or when two items claim the same column position.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrCanceled is returned when a run is canceled before it completes.
	ErrCanceled = errors.New("query canceled")
	// ErrTimedOut is returned when a run exceeds its hard timeout.
	ErrTimedOut = errors.New("query timed out")
)
