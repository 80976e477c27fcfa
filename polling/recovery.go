// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package polling

import (
	"context"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
	"github.com/ZaparooProject/go-mfrc522/internal/syncutil"
)

// Recoverer brings a failed or suspended reader back into service
type Recoverer interface {
	// Recover returns nil once Device answers again
	Recover(ctx context.Context) error
	// Device is the reader to use from now on. It changes when recovery
	// had to open a new transport.
	Device() *mfrc522.Device
}

// ReopenFunc opens a fresh, initialized Device for the same reader
type ReopenFunc func() (*mfrc522.Device, error)

const (
	defaultRecoveryAttempts = 3
	defaultRecoveryBackoff  = 500 * time.Millisecond
)

// ReinitRecoverer first repeats the chip bring-up over the existing
// transport, which is enough after a host sleep that only reset the chip.
// When that fails and a ReopenFunc was given, the old device is closed and
// a new one opened in its place.
type ReinitRecoverer struct {
	device   *mfrc522.Device
	reopen   ReopenFunc
	backoff  time.Duration
	attempts int
	mu       syncutil.Mutex
}

// NewReinitRecoverer creates a ReinitRecoverer. Zero backoff or attempts
// select the defaults; reopen may be nil.
func NewReinitRecoverer(
	device *mfrc522.Device,
	reopen ReopenFunc,
	backoff time.Duration,
	attempts int,
) *ReinitRecoverer {
	if attempts <= 0 {
		attempts = defaultRecoveryAttempts
	}
	if backoff <= 0 {
		backoff = defaultRecoveryBackoff
	}
	return &ReinitRecoverer{device: device, reopen: reopen, backoff: backoff, attempts: attempts}
}

// Recover implements Recoverer
func (r *ReinitRecoverer) Recover(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			if waitErr := pause(ctx, r.backoff); waitErr != nil {
				return waitErr
			}
		}
		if err = r.tryOnce(); err == nil {
			mfrc522.Debugf("recovery: reader back after %d attempt(s)", attempt)
			return nil
		}
		mfrc522.Debugf("recovery: attempt %d/%d failed: %v", attempt, r.attempts, err)
	}
	return err
}

func (r *ReinitRecoverer) tryOnce() error {
	err := r.device.Init()
	if err == nil || r.reopen == nil {
		return err
	}

	_ = r.device.Close()
	device, err := r.reopen()
	if err != nil {
		return err
	}
	r.device = device
	return nil
}

// Device implements Recoverer
func (r *ReinitRecoverer) Device() *mfrc522.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
