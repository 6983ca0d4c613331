// Package hw tracks the hardware resources the agent owns. It holds the
// dual-indexed object tables (logical id and hardware handle) and the
// per-port admin/link state machine, and issues every Control API write.
//
// Nothing in this package locks. Every mutating call, and every lookup or
// traversal that may overlap one, must run under the switch lock owned by
// internal/switchd.
package hw

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateResource indicates an add for a logical id that already
	// owns a hardware resource.
	ErrDuplicateResource = errors.New("duplicate hardware resource")
	// ErrNotFound indicates a logical id or handle the table does not hold.
	ErrNotFound = errors.New("hardware resource not found")
	// ErrHardwareRejected indicates the Control API returned a failure
	// status. The *sai.StatusError is wrapped alongside it.
	ErrHardwareRejected = errors.New("hardware rejected request")
)

func rejected(what string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrHardwareRejected, what, cause)
}
