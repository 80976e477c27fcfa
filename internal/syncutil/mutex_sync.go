//go:build !deadlock

// Package syncutil provides the mutexes that guard transports and the
// chip simulator. Without the deadlock build tag they are plain sync
// mutexes.
package syncutil

import "sync"

// Mutex serializes register access on one bus.
//
//nolint:gocritic // embedding exposes Lock and Unlock
type Mutex struct {
	sync.Mutex
}

// RWMutex guards state that is read more often than written.
//
//nolint:gocritic // embedding exposes the RWMutex method set
type RWMutex struct {
	sync.RWMutex
}
