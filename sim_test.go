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
	"testing"
	"time"

	virt "github.com/ZaparooProject/go-mfrc522/internal/testing"
	"github.com/stretchr/testify/require"
)

// simTransport adapts the chip simulator to Transport
type simTransport struct {
	*virt.VirtualMFRC522
}

func (simTransport) Type() TransportType {
	return TransportMock
}

// newSimDevice returns an initialized device talking to a simulated chip
// with cards placed in the field
func newSimDevice(t *testing.T, cards ...*virt.VirtualCard) (*Device, *virt.VirtualMFRC522) {
	t.Helper()

	sim := virt.NewVirtualMFRC522()
	for _, c := range cards {
		sim.AddCard(c)
	}
	device, err := New(simTransport{sim}, WithCommandTimeout(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, device.Init())
	return device, sim
}

// selectCard wakes and selects the only card in the field
func selectCard(t *testing.T, device *Device) UID {
	t.Helper()

	_, err := device.WakeupA()
	require.NoError(t, err)
	uid, err := device.ReadCardSerial()
	require.NoError(t, err)
	return uid
}

// authenticated selects the card and opens a key A session for block
func authenticated(t *testing.T, device *Device, block byte) UID {
	t.Helper()

	uid := selectCard(t, device)
	require.NoError(t, device.Authenticate(KeyA, block, DefaultKey, uid))
	return uid
}
