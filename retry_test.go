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
	"errors"
	"testing"
	"time"

	virt "github.com/ZaparooProject/go-mfrc522/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2,
		RetryTimeout:      time.Second,
	}
}

func TestRetryWithConfig(t *testing.T) {
	t.Parallel()

	errPermanent := errors.New("permanent")

	tests := []struct {
		name      string
		config    *RetryConfig
		results   []error
		wantErr   error
		wantCalls int
	}{
		{
			name:      "first try",
			config:    fastRetry(3),
			results:   []error{nil},
			wantCalls: 1,
		},
		{
			name:      "timeout then success",
			config:    fastRetry(3),
			results:   []error{ErrTimeout, ErrCollision, nil},
			wantCalls: 3,
		},
		{
			name:      "attempts exhausted",
			config:    fastRetry(2),
			results:   []error{ErrTimeout, ErrCRCWrong, nil},
			wantErr:   ErrCRCWrong,
			wantCalls: 2,
		},
		{
			name:      "not retryable",
			config:    fastRetry(5),
			results:   []error{ErrMifareNack, nil},
			wantErr:   ErrMifareNack,
			wantCalls: 1,
		},
		{
			name:      "plain error stops",
			config:    fastRetry(5),
			results:   []error{errPermanent},
			wantErr:   errPermanent,
			wantCalls: 1,
		},
		{
			name:      "zero attempts calls once",
			config:    fastRetry(0),
			results:   []error{ErrTimeout, nil},
			wantErr:   ErrTimeout,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			err := RetryWithConfig(context.Background(), tt.config, func() error {
				res := tt.results[calls]
				calls++
				return res
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestRetryWithConfig_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryWithConfig(ctx, fastRetry(3), func() error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetryWithConfig_CancelDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	config := fastRetry(10)
	config.InitialBackoff = time.Hour
	config.MaxBackoff = time.Hour

	calls := 0
	err := RetryWithConfig(ctx, config, func() error {
		calls++
		cancel()
		return ErrTimeout
	})
	require.ErrorIs(t, err, ErrTimeout, "the last operation error is kept")
	assert.Equal(t, 1, calls)
}

func TestRetryWithConfig_NilConfig(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryWithConfig(context.Background(), nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCalculateJitteredSleep(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	assert.Equal(t, base, calculateJitteredSleep(base, 0))
	assert.Equal(t, base, calculateJitteredSleep(base, -1))

	for range 50 {
		got := calculateJitteredSleep(base, 0.5)
		assert.GreaterOrEqual(t, got, base)
		assert.LessOrEqual(t, got, base+base/2)
	}
}

func TestWithCard_ReadsAndHalts(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualMIFARE1K([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	card.SetBlock(4, []byte("hello, sector 1!"))
	device, _ := newSimDevice(t, card)

	var data []byte
	err := device.WithCard(context.Background(), func(uid UID) error {
		assert.Equal(t, "DEADBEEF", uid.String())
		if err := device.Authenticate(KeyA, 4, DefaultKey, uid); err != nil {
			return err
		}
		var err error
		data, err = device.MIFARERead(4)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello, sector 1!"), data)
	assert.Equal(t, virt.CardHalt, card.State)
	assert.False(t, device.IsAuthenticated())
}

func TestWithCard_HaltsOnFailure(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualMIFARE1K(nil)
	device, _ := newSimDevice(t, card)
	device.config.RetryConfig = fastRetry(1)

	errApp := errors.New("application failure")
	err := device.WithCard(context.Background(), func(UID) error {
		return errApp
	})
	require.ErrorIs(t, err, errApp)
	assert.Equal(t, virt.CardHalt, card.State)
}

func TestWithCard_RetriesWholeSequence(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualMIFARE1K(nil)
	device, _ := newSimDevice(t, card)
	device.config.RetryConfig = fastRetry(3)

	calls := 0
	err := device.WithCard(context.Background(), func(UID) error {
		calls++
		if calls == 1 {
			return ErrCRCWrong
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "halted card is woken again by WUPA")
}

func TestWithCard_NoCard(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t)
	device.config.RetryConfig = fastRetry(2)

	called := false
	err := device.WithCard(context.Background(), func(UID) error {
		called = true
		return nil
	})
	assert.Equal(t, StatusTimeout, Status(err))
	assert.False(t, called)
}

func TestWithCard_ClosesStaleSession(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t, virt.NewVirtualMIFARE1K(nil))
	authenticated(t, device, 4)

	err := device.WithCard(context.Background(), func(uid UID) error {
		return device.Authenticate(KeyA, 8, DefaultKey, uid)
	})
	require.NoError(t, err)
}

func TestInitContext(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualMFRC522()
	device, err := New(simTransport{sim}, WithRetryConfig(fastRetry(2)))
	require.NoError(t, err)
	require.NoError(t, device.InitContext(context.Background()))
	assert.Equal(t, byte(0x03), sim.Register(RegTxControl)&0x03)
}
