// go-mfrc522
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-mfrc522.
//
// go-mfrc522 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-mfrc522 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-mfrc522; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package polling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
)

// DeviceActor runs a Session on its own goroutine. It is the owner of the
// Device for as long as it runs; use Do or WithCard to reach the chip.
type DeviceActor struct {
	session *Session
	cancel  context.CancelFunc
	err     error
	wg      sync.WaitGroup
	mu      sync.Mutex
	// Running state to prevent multiple goroutines
	started atomic.Bool
}

// NewDeviceActor creates a new device actor. A nil config selects
// DefaultConfig.
func NewDeviceActor(device *mfrc522.Device, config *Config, callbacks DeviceCallbacks) *DeviceActor {
	return &DeviceActor{session: NewSession(device, config, callbacks)}
}

// Session returns the underlying session
func (da *DeviceActor) Session() *Session {
	return da.session
}

// Start launches the polling goroutine. Further calls do nothing.
func (da *DeviceActor) Start(ctx context.Context) error {
	if !da.started.CompareAndSwap(false, true) {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	da.mu.Lock()
	da.cancel = cancel
	da.mu.Unlock()

	da.wg.Add(1)
	go func() {
		defer da.wg.Done()
		err := da.session.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			mfrc522.Debugf("device actor stopped: %v", err)
		}
		da.mu.Lock()
		da.err = err
		da.mu.Unlock()
	}()
	return nil
}

// Stop stops the device actor and waits for the polling goroutine to
// exit, or for ctx to end
func (da *DeviceActor) Stop(ctx context.Context) error {
	da.mu.Lock()
	cancel := da.cancel
	da.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	exited := make(chan struct{})
	go func() {
		da.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
		return da.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns why the polling goroutine ended, nil while it runs or when
// it was stopped
func (da *DeviceActor) Err() error {
	da.mu.Lock()
	defer da.mu.Unlock()
	return da.err
}

// Do runs fn on the polling goroutine
func (da *DeviceActor) Do(ctx context.Context, fn func(*mfrc522.Device) error) error {
	return da.session.Do(ctx, fn)
}

// WithCard selects a card and runs fn on it between two polls
func (da *DeviceActor) WithCard(ctx context.Context, fn mfrc522.CardFunc) error {
	return da.session.WithCard(ctx, fn)
}

// GetMetrics returns current operational metrics
func (da *DeviceActor) GetMetrics() DeviceMetrics {
	return da.session.GetMetrics()
}

// GetCurrentPollInterval returns the current adaptive polling interval
func (da *DeviceActor) GetCurrentPollInterval() time.Duration {
	return da.session.GetCurrentPollInterval()
}
