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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
	virt "github.com/ZaparooProject/go-mfrc522/internal/testing"
	"github.com/stretchr/testify/require"
)

// simTransport adapts the chip simulator to mfrc522.Transport. Setting
// gone makes every access fail the way an unplugged adapter does.
type simTransport struct {
	*virt.VirtualMFRC522
	gone atomic.Bool
}

func (s *simTransport) ReadRegister(reg byte) (byte, error) {
	if s.gone.Load() {
		return 0, mfrc522.ErrTransportClosed
	}
	return s.VirtualMFRC522.ReadRegister(reg)
}

func (s *simTransport) ReadRegisters(reg byte, count int) ([]byte, error) {
	if s.gone.Load() {
		return nil, mfrc522.ErrTransportClosed
	}
	return s.VirtualMFRC522.ReadRegisters(reg, count)
}

func (s *simTransport) WriteRegister(reg, value byte) error {
	if s.gone.Load() {
		return mfrc522.ErrTransportClosed
	}
	return s.VirtualMFRC522.WriteRegister(reg, value)
}

func (s *simTransport) WriteRegisters(reg byte, values []byte) error {
	if s.gone.Load() {
		return mfrc522.ErrTransportClosed
	}
	return s.VirtualMFRC522.WriteRegisters(reg, values)
}

func (*simTransport) Type() mfrc522.TransportType {
	return mfrc522.TransportMock
}

func newSimDevice(t *testing.T, cards ...*virt.VirtualCard) (*mfrc522.Device, *simTransport) {
	t.Helper()

	tr := &simTransport{VirtualMFRC522: virt.NewVirtualMFRC522()}
	for _, c := range cards {
		tr.AddCard(c)
	}
	device, err := mfrc522.New(tr,
		mfrc522.WithCommandTimeout(50*time.Millisecond),
		mfrc522.WithMaxRetries(2),
	)
	require.NoError(t, err)
	require.NoError(t, device.Init())
	return device, tr
}

func fastConfig() *Config {
	return &Config{
		PollInterval:       5 * time.Millisecond,
		CardRemovalTimeout: 40 * time.Millisecond,
	}
}

// eventLog records callback invocations from the polling goroutine
type eventLog struct {
	events []string
	mu     sync.Mutex
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) callbacks() DeviceCallbacks {
	return DeviceCallbacks{
		OnCardDetected: func(_ *mfrc522.Device, uid mfrc522.UID) error {
			l.add("detected " + uid.String())
			return nil
		},
		OnCardChanged: func(_ *mfrc522.Device, uid mfrc522.UID) error {
			l.add("changed " + uid.String())
			return nil
		},
		OnCardRemoved: func(uid mfrc522.UID) {
			l.add("removed " + uid.String())
		},
	}
}
