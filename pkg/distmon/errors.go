// Package distmon ties the Ricart-Agrawala mutual exclusion engine and the
// distributed condition variable engine together into the programmer-facing
// Monitor abstraction: a named mutex, zero or more condition variables
// guarded by it, and automatic state replication to every peer on release.
package distmon

import "errors"

var (
	// ErrNotOwned is returned by a DistributedConditionVariable's Wait,
	// NotifyOne or NotifyAll when the calling process does not currently
	// hold the guarding DistributedMutex. Mirrors the reference
	// implementation's requirement that a condition variable only ever be
	// touched with its mutex locked.
	ErrNotOwned = errors.New("distmon: condition variable used without holding its mutex")

	// ErrDuplicateMonitor is returned by NewMonitor when a monitor with the
	// same name has already been registered on this process.
	ErrDuplicateMonitor = errors.New("distmon: monitor already registered")

	// ErrMutexNameTooLong is returned when a mutex or monitor name exceeds
	// 255 bytes, the limit imposed by the single-byte length prefix used to
	// frame names inside SYNC payloads.
	ErrMutexNameTooLong = errors.New("distmon: mutex name exceeds 255 bytes")
)
