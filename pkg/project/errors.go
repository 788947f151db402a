package project

import "errors"

var (
	// ErrGuestRole is returned when a guest attempts a host-only operation,
	// e.g. creating a local terminal.
	ErrGuestRole = errors.New("operation requires the host role")

	// ErrHostRole is returned when a host attempts a guest-only operation,
	// e.g. opening a remote terminal on itself.
	ErrHostRole = errors.New("operation requires the guest role")

	// ErrNotFound is returned when an operation references a terminal that
	// no longer exists. This is an expected outcome of the race between
	// directory updates and attach attempts, and the caller is expected to
	// re-read the directory before retrying.
	ErrNotFound = errors.New("terminal no longer exists")
)
