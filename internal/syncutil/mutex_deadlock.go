//go:build deadlock

// Package syncutil provides the mutexes that guard transports and the
// chip simulator. Building with -tags=deadlock swaps them for
// github.com/sasha-s/go-deadlock so lock-order mistakes show up in tests.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// A single register burst over a 9600 baud UART stays well below this.
const lockTimeout = 5 * time.Second

func init() {
	deadlock.Opts.DeadlockTimeout = lockTimeout
}

// Mutex is a deadlock.Mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock.RWMutex.
type RWMutex struct {
	deadlock.RWMutex
}
