package fedcomm

import "sync/atomic"

// TripWire is a process-scoped flag consulted during late destruction
// to short-circuit teardown that would otherwise block. It is tripped
// once, globally, via Trip, and outside tests never reset.
type TripWire struct {
	tripped atomic.Bool
}

// globalTripWire backs the package-level Trip/IsTripped helpers so
// that DelayedDestructor instances scattered across a process share
// one shutdown signal without needing to be wired together explicitly.
var globalTripWire TripWire

// Trip marks the process as tearing down. Idempotent.
func Trip() {
	globalTripWire.tripped.Store(true)
}

// IsTripped reports whether Trip has been called.
func IsTripped() bool {
	return globalTripWire.tripped.Load()
}

// resetTripWireForTest clears the trip flag. Only tests should call this; production
// code trips once per process lifetime.
func resetTripWireForTest() {
	globalTripWire.tripped.Store(false)
}
