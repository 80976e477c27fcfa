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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
	"github.com/ZaparooProject/go-mfrc522/internal/syncutil"
)

var (
	// ErrSessionClosed is returned by requests made after Run returned
	ErrSessionClosed = errors.New("polling session closed")
	// ErrAlreadyRunning is returned by a second call to Run
	ErrAlreadyRunning = errors.New("polling session already running")
	// ErrNoCardInPoll indicates no card answered a poll (not an error condition)
	ErrNoCardInPoll = errors.New("no card detected in polling cycle")
)

// CardHandler is called with the card still selected. It may
// authenticate and read; the session stops Crypto1 and halts the card
// afterwards.
type CardHandler func(device *mfrc522.Device, uid mfrc522.UID) error

// DeviceCallbacks defines callback functions for card events. They run
// on the polling goroutine and must not call Session.Do.
type DeviceCallbacks struct {
	OnCardDetected CardHandler
	OnCardChanged  CardHandler
	OnCardRemoved  func(uid mfrc522.UID)
}

// DeviceMetrics tracks operational metrics for a polling session
type DeviceMetrics struct {
	PollCycles      int64         // Total number of polling cycles
	PollErrors      int64         // Number of polling errors
	CardsDetected   int64         // Number of cards detected
	CallbackErrors  int64         // Number of callback errors
	Recoveries      int64         // Number of successful device recoveries
	LastPollLatency time.Duration // Duration of last polling operation
}

type request struct {
	fn    func(*mfrc522.Device) error
	reply chan error
}

// Session watches the field of one reader. It owns the Device while Run
// is active; other goroutines reach the chip only through Do and WithCard,
// which are served between polls.
//
// A Session is single use: once Run returns it cannot be restarted.
type Session struct {
	device    *mfrc522.Device
	recoverer Recoverer
	config    *Config
	callbacks DeviceCallbacks
	now       func() time.Time
	requests  chan request
	done      chan struct{}
	state     CardState
	stateMu   syncutil.RWMutex

	lastCard time.Time
	interval atomic.Int64

	pollCycles      atomic.Int64
	pollErrors      atomic.Int64
	cardsDetected   atomic.Int64
	callbackErrors  atomic.Int64
	recoveries      atomic.Int64
	lastPollLatency atomic.Int64

	running atomic.Bool
}

// NewSession creates a card monitoring session for an initialized device
func NewSession(device *mfrc522.Device, config *Config, callbacks DeviceCallbacks) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Session{
		device:    device,
		config:    config,
		callbacks: callbacks,
		now:       time.Now,
		requests:  make(chan request),
		done:      make(chan struct{}),
	}
	s.interval.Store(int64(config.PollInterval))
	return s
}

// SetRecoverer enables recovery after fatal errors and host sleep. It
// must be called before Run.
func (s *Session) SetRecoverer(r Recoverer) {
	s.recoverer = r
}

// EnableRecovery installs a ReinitRecoverer using the attempts and
// backoff of config.Recovery. reopen may be nil.
func (s *Session) EnableRecovery(reopen ReopenFunc) {
	rc := s.config.Recovery
	s.recoverer = NewReinitRecoverer(s.device, reopen, rc.Backoff, rc.Attempts)
}

// Device returns the device currently polled
func (s *Session) Device() *mfrc522.Device {
	if s.recoverer != nil {
		return s.recoverer.Device()
	}
	return s.device
}

// GetState returns a copy of the current card state
func (s *Session) GetState() CardState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	st := s.state
	st.UID.Bytes = append([]byte(nil), s.state.UID.Bytes...)
	return st
}

// GetMetrics returns current operational metrics
func (s *Session) GetMetrics() DeviceMetrics {
	return DeviceMetrics{
		PollCycles:      s.pollCycles.Load(),
		PollErrors:      s.pollErrors.Load(),
		CardsDetected:   s.cardsDetected.Load(),
		CallbackErrors:  s.callbackErrors.Load(),
		Recoveries:      s.recoveries.Load(),
		LastPollLatency: time.Duration(s.lastPollLatency.Load()),
	}
}

// GetCurrentPollInterval returns the current adaptive polling interval
func (s *Session) GetCurrentPollInterval() time.Duration {
	return time.Duration(s.interval.Load())
}

// Run polls until ctx is done or the device fails beyond recovery. It
// returns ctx.Err() on cancellation.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	s.lastCard = s.now()
	lastPoll := s.now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.requests:
			req.reply <- s.serve(req.fn)
		case <-timer.C:
			now := s.now()
			slept := s.config.Recovery.Slept(now.Sub(lastPoll), s.GetCurrentPollInterval())
			lastPoll = now
			if slept {
				mfrc522.Debugf("polling: host sleep detected")
				if err := s.tryRecovery(ctx, nil); err != nil {
					return err
				}
			}

			if err := s.pollOnce(); err != nil {
				if err := s.tryRecovery(ctx, err); err != nil {
					return err
				}
			}
			s.adjustPollInterval()
			timer.Reset(s.GetCurrentPollInterval())
		}
	}
}

// Do runs fn on the polling goroutine between two polls. It needs Run to
// be active, and blocks until fn returns or ctx is done.
func (s *Session) Do(ctx context.Context, fn func(*mfrc522.Device) error) error {
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithCard selects a card between two polls and runs fn on it with the
// device's retry policy, halting the card afterwards
func (s *Session) WithCard(ctx context.Context, fn mfrc522.CardFunc) error {
	return s.Do(ctx, func(d *mfrc522.Device) error {
		return d.WithCard(ctx, fn)
	})
}

func (s *Session) serve(fn func(*mfrc522.Device) error) (err error) {
	s.stateMu.Lock()
	prev := s.state.DetectionState
	if s.state.Present {
		s.state.TransitionToBusy()
	}
	s.stateMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("polling request panicked: %v", r)
		}
		s.stateMu.Lock()
		if s.state.Present {
			s.state.DetectionState = prev
			s.state.LastSeenTime = s.now()
		}
		s.stateMu.Unlock()
	}()

	return fn(s.Device())
}

// pollOnce runs one detection cycle and returns only errors that call
// for recovery
func (s *Session) pollOnce() error {
	start := s.now()
	uid, err := s.detect()
	latency := s.now().Sub(start)

	s.pollCycles.Add(1)
	s.lastPollLatency.Store(int64(latency))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoCardInPoll):
		s.checkRemoval()
		return nil
	default:
		s.pollErrors.Add(1)
		if mfrc522.IsFatal(err) {
			return err
		}
		mfrc522.Debugf("polling: %v (uid %s)", err, uid)
		s.checkRemoval()
		return nil
	}
}

// detect wakes a card, selects it, runs the callbacks and halts it
// again. WUPA reaches cards this session halted, so a card resting on the
// reader answers every poll.
func (s *Session) detect() (uid mfrc522.UID, err error) {
	device := s.Device()
	if device.IsAuthenticated() {
		if err := device.StopCrypto1(); err != nil {
			return uid, err
		}
	}

	if _, err = device.WakeupA(); err != nil {
		switch mfrc522.Status(err) {
		case mfrc522.StatusCollision:
		case mfrc522.StatusTimeout:
			return uid, ErrNoCardInPoll
		default:
			return uid, err
		}
	}

	uid, err = device.ReadCardSerial()
	if err != nil {
		if mfrc522.Status(err) == mfrc522.StatusTimeout {
			// left the field between WUPA and SELECT
			return uid, ErrNoCardInPoll
		}
		return uid, err
	}

	defer func() {
		stopErr := device.StopCrypto1()
		haltErr := device.HaltA()
		if err == nil {
			err = errors.Join(stopErr, haltErr)
		}
	}()

	s.cardSeen(device, uid)
	return uid, nil
}

// cardSeen updates the state for uid and fires the callbacks a change
// calls for
func (s *Session) cardSeen(device *mfrc522.Device, uid mfrc522.UID) {
	now := s.now()
	s.lastCard = now

	s.stateMu.Lock()
	wasPresent := s.state.Present
	changed := wasPresent && !s.state.UID.Equal(uid)
	s.state.TransitionToPresent(uid, now)
	if !wasPresent || changed {
		s.state.TransitionToBusy()
	}
	onDetected := s.callbacks.OnCardDetected
	onChanged := s.callbacks.OnCardChanged
	s.stateMu.Unlock()

	if wasPresent && !changed {
		return
	}

	s.cardsDetected.Add(1)
	switch {
	case !wasPresent && onDetected != nil:
		s.runHandler("OnCardDetected", onDetected, device, uid)
	case changed && onChanged != nil:
		s.runHandler("OnCardChanged", onChanged, device, uid)
	}

	s.stateMu.Lock()
	s.state.TransitionToPresent(uid, s.now())
	s.stateMu.Unlock()
}

// runHandler executes a callback with panic recovery
func (s *Session) runHandler(name string, handler CardHandler, device *mfrc522.Device, uid mfrc522.UID) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s callback panicked: %v", name, r)
			}
		}()
		err = handler(device, uid)
	}()
	if err != nil {
		s.callbackErrors.Add(1)
		mfrc522.Debugf("polling: %s %s: %v", name, uid, err)
	}
}

// checkRemoval reports the card removed once it has been silent for
// CardRemovalTimeout
func (s *Session) checkRemoval() {
	s.stateMu.Lock()
	if !s.state.Expired(s.now(), s.config.CardRemovalTimeout) {
		s.stateMu.Unlock()
		return
	}
	uid := s.state.UID
	s.state.TransitionToIdle()
	onRemoved := s.callbacks.OnCardRemoved
	s.stateMu.Unlock()

	if onRemoved != nil {
		onRemoved(uid)
	}
}

// adjustPollInterval slows polling down after IdleAfter without a card
func (s *Session) adjustPollInterval() {
	interval := s.config.PollInterval
	idle := s.config.IdlePollInterval
	if idle > interval && s.now().Sub(s.lastCard) > s.config.IdleAfter {
		interval = idle
	}
	s.interval.Store(int64(interval))
}

// tryRecovery brings the device back after cause, or after host sleep when
// cause is nil. Without a recoverer a fatal cause ends the session.
func (s *Session) tryRecovery(ctx context.Context, cause error) error {
	if s.recoverer == nil {
		return cause
	}
	if err := s.recoverer.Recover(ctx); err != nil {
		if cause == nil {
			cause = errors.New("host sleep")
		}
		return fmt.Errorf("device recovery after %v failed: %w", cause, err)
	}
	s.recoveries.Add(1)
	return nil
}
