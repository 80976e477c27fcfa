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

package mfrc522

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// ConnectDevice retries the whole open and bring-up with these settings
const (
	// DefaultConnectionRetries is the number of attempts to bring up a device
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the delay before the second attempt
	ConnectionInitialBackoff = 50 * time.Millisecond
	// ConnectionMaxBackoff caps the delay between attempts
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionRetryTimeout bounds all connection attempts together
	ConnectionRetryTimeout = 10 * time.Second
)

// RetryConfig describes how a failed card sequence is re-run. Backoff
// starts at InitialBackoff, grows by BackoffMultiplier up to MaxBackoff and
// is stretched by a random share of up to Jitter.
type RetryConfig struct {
	// MaxAttempts counts the first try; 0 or less runs fn once
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64
	// RetryTimeout bounds all attempts together, 0 for no bound
	RetryTimeout time.Duration
}

// DefaultRetryConfig suits a card held still on the antenna: three tries
// within a few tens of milliseconds
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        250 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      2 * time.Second,
	}
}

func connectionRetryConfig(attempts int) *RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = attempts
	cfg.InitialBackoff = ConnectionInitialBackoff
	cfg.MaxBackoff = ConnectionMaxBackoff
	cfg.RetryTimeout = ConnectionRetryTimeout
	return cfg
}

// next returns the backoff that follows wait
func (c *RetryConfig) next(wait time.Duration) time.Duration {
	grown := time.Duration(float64(wait) * c.BackoffMultiplier)
	if c.MaxBackoff > 0 {
		grown = min(grown, c.MaxBackoff)
	}
	return grown
}

// RetryableFunc is one attempt of a retried operation
type RetryableFunc func() error

// RetryWithConfig runs fn until it succeeds, returns an error IsRetryable
// rejects, or the attempts or RetryTimeout of config are used up. A nil
// config means DefaultRetryConfig. The error of the last attempt is
// returned.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return fn()
	}
	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	var err error
	wait := config.InitialBackoff
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return fmt.Errorf("retry context cancelled: %w", ctxErr)
		}

		err = fn()
		if err == nil || !IsRetryable(err) || attempt >= config.MaxAttempts {
			return err
		}

		sleep := calculateJitteredSleep(wait, config.Jitter)
		debugf("attempt %d/%d failed, retrying in %v: %v", attempt, config.MaxAttempts, sleep, err)
		if !sleepWithContext(ctx, sleep) {
			return err
		}
		wait = config.next(wait)
	}
}

// sleepWithContext waits for d and reports false if ctx ended first
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// calculateJitteredSleep stretches base by a random share of up to factor
func calculateJitteredSleep(base time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return base
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return base
	}
	share := float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
	return base + time.Duration(share*factor*float64(base))
}

// CardFunc operates on a selected card
type CardFunc func(uid UID) error

// WithCard runs the complete select and operate sequence: WakeupA, Select,
// fn, then StopCrypto1 and HaltA. A failure in any step leaves no state
// behind, so the whole sequence is what gets retried under the device's
// RetryConfig. The card is halted even when fn fails.
func (d *Device) WithCard(ctx context.Context, fn CardFunc) error {
	return RetryWithConfig(ctx, d.config.RetryConfig, func() error {
		return d.runCardSequence(fn)
	})
}

func (d *Device) runCardSequence(fn CardFunc) (err error) {
	if d.authenticated {
		if err = d.StopCrypto1(); err != nil {
			return err
		}
	}
	if _, err = d.WakeupA(); err != nil && Status(err) != StatusCollision {
		return err
	}
	uid, err := d.ReadCardSerial()
	if err != nil {
		return err
	}

	defer func() {
		stopErr := d.StopCrypto1()
		haltErr := d.HaltA()
		if err == nil {
			err = stopErr
		}
		if err == nil {
			err = haltErr
		}
	}()

	return fn(uid)
}
