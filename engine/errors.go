package engine

import "errors"

var (
	// ErrClosed is returned for operations on a closed coordinator.
	ErrClosed = errors.New("engine closed")

	// ErrNoAnchorSet is returned when an operation needs projections but no
	// anchor set has been registered yet.
	ErrNoAnchorSet = errors.New("no anchor set registered")

	// ErrUnknownJob is returned when polling a cluster job ID that was
	// never submitted.
	ErrUnknownJob = errors.New("unknown cluster job")

	// ErrIndexInconsistency is returned by Validate when the live
	// generation disagrees with the stores. The report alongside it names
	// the affected atoms; repair runs in the background.
	ErrIndexInconsistency = errors.New("index inconsistency detected")
)
