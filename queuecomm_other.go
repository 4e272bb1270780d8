//go:build !linux

package fedcomm

import "fmt"

// On non-Linux platforms the package still compiles. NewQueueComm
// itself still succeeds; the two backend factories below return an
// error instead of panicking, so the rx loop reports StatusError with
// a synthetic CMD_ERROR callback and Connect returns false.

func newRealMQBackend(name string, maxCount, maxSize int, create bool) (mqBackend, error) {
	return nil, fmt.Errorf("fedcomm: queue transport is only supported on linux")
}

func newRealSharedState(name string, create bool) (sharedState, error) {
	return nil, fmt.Errorf("fedcomm: queue transport is only supported on linux")
}
