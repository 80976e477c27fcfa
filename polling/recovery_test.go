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
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReinitRecoverer(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t)

	t.Run("WithDefaults", func(t *testing.T) {
		t.Parallel()
		r := NewReinitRecoverer(device, nil, 0, 0)
		assert.NotNil(t, r)
		assert.Equal(t, 3, r.attempts)
		assert.Equal(t, 500*time.Millisecond, r.backoff)
	})

	t.Run("WithCustomValues", func(t *testing.T) {
		t.Parallel()
		r := NewReinitRecoverer(device, nil, 100*time.Millisecond, 5)
		assert.Equal(t, 5, r.attempts)
		assert.Equal(t, 100*time.Millisecond, r.backoff)
	})
}

func TestReinitRecoverer_InitSuccess(t *testing.T) {
	t.Parallel()

	device, tr := newSimDevice(t)
	// a chip that lost its configuration over sleep
	require.NoError(t, tr.WriteRegister(mfrc522.RegTMode, 0x00))

	r := NewReinitRecoverer(device, nil, time.Millisecond, 3)
	require.NoError(t, r.Recover(context.Background()))
	assert.Same(t, device, r.Device())
	assert.Equal(t, byte(0x80), tr.Register(mfrc522.RegTMode))
}

func TestReinitRecoverer_InitFailsNoReopen(t *testing.T) {
	t.Parallel()

	device, tr := newSimDevice(t)
	tr.gone.Store(true)

	r := NewReinitRecoverer(device, nil, time.Millisecond, 2)
	err := r.Recover(context.Background())
	require.ErrorIs(t, err, mfrc522.ErrTransportClosed)
	assert.Same(t, device, r.Device())
}

func TestReinitRecoverer_FullReconnectSuccess(t *testing.T) {
	t.Parallel()

	device, tr := newSimDevice(t)
	tr.gone.Store(true)
	replacement, _ := newSimDevice(t)

	calls := 0
	r := NewReinitRecoverer(device, func() (*mfrc522.Device, error) {
		calls++
		return replacement, nil
	}, time.Millisecond, 3)

	require.NoError(t, r.Recover(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Same(t, replacement, r.Device())
}

func TestReinitRecoverer_AllAttemptsFail(t *testing.T) {
	t.Parallel()

	device, tr := newSimDevice(t)
	tr.gone.Store(true)

	errReopen := errors.New("adapter still missing")
	calls := 0
	r := NewReinitRecoverer(device, func() (*mfrc522.Device, error) {
		calls++
		return nil, errReopen
	}, time.Millisecond, 3)

	require.ErrorIs(t, r.Recover(context.Background()), errReopen)
	assert.Equal(t, 3, calls)
}

func TestReinitRecoverer_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	device, tr := newSimDevice(t)
	tr.gone.Store(true)

	r := NewReinitRecoverer(device, nil, time.Hour, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, r.Recover(ctx), context.DeadlineExceeded)
}

func TestSession_EnableRecovery(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t)
	config := fastConfig()
	config.Recovery = RecoveryConfig{Backoff: 7 * time.Millisecond, Attempts: 4}
	session := NewSession(device, config, DeviceCallbacks{})
	session.EnableRecovery(nil)

	r, ok := session.recoverer.(*ReinitRecoverer)
	require.True(t, ok)
	assert.Equal(t, 4, r.attempts)
	assert.Equal(t, 7*time.Millisecond, r.backoff)
	assert.Same(t, device, session.Device())
}
