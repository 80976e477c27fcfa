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
	"testing"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
	virt "github.com/ZaparooProject/go-mfrc522/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// runSession starts Run on a goroutine and returns a stop function that
// cancels it and yields Run's result
func runSession(t *testing.T, s *Session) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	var once bool
	var err error
	stop := func() error {
		if !once {
			once = true
			cancel()
			err = <-result
		}
		return err
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func TestSession_DetectAndRemove(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualMIFARE1K(nil)
	device, tr := newSimDevice(t, card)
	log := &eventLog{}
	session := NewSession(device, fastConfig(), log.callbacks())
	stop := runSession(t, session)

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"detected DEADBEEF"}, log.snapshot())

	state := session.GetState()
	assert.True(t, state.Present)
	assert.Equal(t, mfrc522.PICCTypeMIFARE1K, state.Type)
	assert.Equal(t, "DEADBEEF", state.UID.String())

	tr.RemoveCard(card)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, waitFor, tick)
	assert.Equal(t, "removed DEADBEEF", log.snapshot()[1])
	assert.Equal(t, StateIdle, session.GetState().DetectionState)

	require.ErrorIs(t, stop(), context.Canceled)
	assert.Equal(t, int64(1), session.GetMetrics().CardsDetected)
}

func TestSession_RestingCardFiresOnce(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t, virt.NewVirtualMIFARE1K(nil))
	log := &eventLog{}
	session := NewSession(device, fastConfig(), log.callbacks())
	stop := runSession(t, session)

	require.Eventually(t, func() bool { return session.GetMetrics().PollCycles >= 10 }, waitFor, tick)
	require.ErrorIs(t, stop(), context.Canceled)

	assert.Equal(t, []string{"detected DEADBEEF"}, log.snapshot())
	metrics := session.GetMetrics()
	assert.Equal(t, int64(1), metrics.CardsDetected)
	assert.Zero(t, metrics.PollErrors)
}

func TestSession_CardChanged(t *testing.T) {
	t.Parallel()

	first := virt.NewVirtualMIFARE1K(nil)
	second := virt.NewVirtualMIFARE4K(nil)
	device, tr := newSimDevice(t, first)
	log := &eventLog{}
	config := fastConfig()
	config.CardRemovalTimeout = time.Second
	session := NewSession(device, config, log.callbacks())
	runSession(t, session)

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, waitFor, tick)
	tr.RemoveCard(first)
	tr.AddCard(second)

	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"detected DEADBEEF", "changed 11223344"}, log.snapshot())
	assert.Equal(t, mfrc522.PICCTypeMIFARE4K, session.GetState().Type)
}

func TestSession_CallbackReadsSelectedCard(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualMIFARE1K(nil)
	card.SetBlock(4, []byte("polled and read!"))
	device, _ := newSimDevice(t, card)

	got := make(chan []byte, 1)
	session := NewSession(device, fastConfig(), DeviceCallbacks{
		OnCardDetected: func(d *mfrc522.Device, uid mfrc522.UID) error {
			if err := d.Authenticate(mfrc522.KeyA, 4, mfrc522.DefaultKey, uid); err != nil {
				return err
			}
			data, err := d.MIFARERead(4)
			if err != nil {
				return err
			}
			got <- data
			return nil
		},
	})
	runSession(t, session)

	select {
	case data := <-got:
		assert.Equal(t, []byte("polled and read!"), data)
	case <-time.After(waitFor):
		t.Fatal("card was never handed to OnCardDetected")
	}

	// the session closes the Crypto1 session and halts the card
	require.Eventually(t, func() bool { return session.GetMetrics().PollCycles >= 3 }, waitFor, tick)
	assert.Zero(t, session.GetMetrics().CallbackErrors)
}

func TestSession_CallbackFailuresAreCounted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		handler CardHandler
		name    string
	}{
		{
			name:    "error",
			handler: func(*mfrc522.Device, mfrc522.UID) error { return errors.New("rejected") },
		},
		{
			name:    "panic",
			handler: func(*mfrc522.Device, mfrc522.UID) error { panic("boom") },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			device, _ := newSimDevice(t, virt.NewVirtualMIFARE1K(nil))
			session := NewSession(device, fastConfig(), DeviceCallbacks{OnCardDetected: tc.handler})
			stop := runSession(t, session)

			require.Eventually(t, func() bool { return session.GetMetrics().CallbackErrors == 1 }, waitFor, tick)
			require.Eventually(t, func() bool { return session.GetMetrics().PollCycles >= 5 }, waitFor, tick)
			require.ErrorIs(t, stop(), context.Canceled)
			assert.Equal(t, int64(1), session.GetMetrics().CallbackErrors)
			assert.True(t, session.GetState().Present)
		})
	}
}

func TestSession_Do(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t)
	session := NewSession(device, fastConfig(), DeviceCallbacks{})
	stop := runSession(t, session)

	var version mfrc522.ChipVersion
	err := session.Do(context.Background(), func(d *mfrc522.Device) error {
		var err error
		version, err = d.Version()
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, byte(0x92), version.Raw)

	errBoom := errors.New("boom")
	err = session.Do(context.Background(), func(*mfrc522.Device) error { return errBoom })
	require.ErrorIs(t, err, errBoom)

	err = session.Do(context.Background(), func(*mfrc522.Device) error { panic("request") })
	require.Error(t, err)

	require.ErrorIs(t, stop(), context.Canceled)
	err = session.Do(context.Background(), func(*mfrc522.Device) error { return nil })
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_DoHonorsContext(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t)
	session := NewSession(device, fastConfig(), DeviceCallbacks{})

	// Run never started, nobody serves the request
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := session.Do(ctx, func(*mfrc522.Device) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_WithCard(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualMIFARE1K(nil)
	device, _ := newSimDevice(t, card)
	session := NewSession(device, fastConfig(), DeviceCallbacks{})
	runSession(t, session)

	payload := []byte("written by queue")
	err := session.WithCard(context.Background(), func(uid mfrc522.UID) error {
		d := session.Device()
		if err := d.Authenticate(mfrc522.KeyA, 5, mfrc522.DefaultKey, uid); err != nil {
			return err
		}
		return d.MIFAREWrite(5, payload)
	})
	require.NoError(t, err)

	var readBack []byte
	err = session.WithCard(context.Background(), func(uid mfrc522.UID) error {
		d := session.Device()
		if err := d.Authenticate(mfrc522.KeyA, 5, mfrc522.DefaultKey, uid); err != nil {
			return err
		}
		var err error
		readBack, err = d.MIFARERead(5)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, payload, readBack)
}

func TestSession_RunTwice(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t)
	session := NewSession(device, fastConfig(), DeviceCallbacks{})
	runSession(t, session)

	require.Eventually(t, func() bool { return session.GetMetrics().PollCycles > 0 }, waitFor, tick)
	require.ErrorIs(t, session.Run(context.Background()), ErrAlreadyRunning)
}

func TestSession_FatalErrorEndsRun(t *testing.T) {
	t.Parallel()

	device, tr := newSimDevice(t)
	session := NewSession(device, fastConfig(), DeviceCallbacks{})

	result := make(chan error, 1)
	go func() { result <- session.Run(context.Background()) }()

	require.Eventually(t, func() bool { return session.GetMetrics().PollCycles > 0 }, waitFor, tick)
	tr.gone.Store(true)

	select {
	case err := <-result:
		require.ErrorIs(t, err, mfrc522.ErrTransportClosed)
		assert.True(t, mfrc522.IsFatal(err))
	case <-time.After(waitFor):
		t.Fatal("Run kept going on a vanished transport")
	}
	assert.GreaterOrEqual(t, session.GetMetrics().PollErrors, int64(1))
}

func TestSession_RecoversByReopening(t *testing.T) {
	t.Parallel()

	device, tr := newSimDevice(t)
	replacement, _ := newSimDevice(t, virt.NewVirtualMIFARE1K(nil))

	log := &eventLog{}
	session := NewSession(device, fastConfig(), log.callbacks())
	session.SetRecoverer(NewReinitRecoverer(device, func() (*mfrc522.Device, error) {
		return replacement, nil
	}, time.Millisecond, 2))
	runSession(t, session)

	require.Eventually(t, func() bool { return session.GetMetrics().PollCycles > 0 }, waitFor, tick)
	tr.gone.Store(true)

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"detected DEADBEEF"}, log.snapshot())
	assert.Equal(t, int64(1), session.GetMetrics().Recoveries)
	assert.Same(t, replacement, session.Device())
}

func TestSession_IdleSlowdown(t *testing.T) {
	t.Parallel()

	device, tr := newSimDevice(t)
	config := fastConfig()
	config.IdlePollInterval = 25 * time.Millisecond
	config.IdleAfter = 20 * time.Millisecond
	session := NewSession(device, config, DeviceCallbacks{})
	runSession(t, session)

	assert.Equal(t, config.PollInterval, session.GetCurrentPollInterval())
	require.Eventually(t, func() bool {
		return session.GetCurrentPollInterval() == config.IdlePollInterval
	}, waitFor, tick)

	tr.AddCard(virt.NewVirtualMIFARE1K(nil))
	require.Eventually(t, func() bool {
		return session.GetCurrentPollInterval() == config.PollInterval
	}, waitFor, tick)
}

func TestNewSession_NilConfig(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t)
	session := NewSession(device, nil, DeviceCallbacks{})
	assert.Equal(t, DefaultConfig().PollInterval, session.GetCurrentPollInterval())
	assert.Same(t, device, session.Device())
}
