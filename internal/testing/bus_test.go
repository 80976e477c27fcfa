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

package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spiRead(reg byte) byte  { return (reg<<1)&0x7E | 0x80 }
func spiWrite(reg byte) byte { return (reg << 1) & 0x7E }

func TestSPIExchange(t *testing.T) {
	t.Parallel()

	sim := NewVirtualMFRC522()

	rx, err := sim.SPIExchange([]byte{spiRead(regVersion), 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, defaultVersion}, rx)

	_, err = sim.SPIExchange([]byte{spiWrite(regTMode), 0x8D})
	require.NoError(t, err)
	assert.Equal(t, byte(0x8D), sim.Register(regTMode))

	_, err = sim.SPIExchange([]byte{spiWrite(regFIFOData), 1, 2, 3})
	require.NoError(t, err)
	rx, err = sim.SPIExchange([]byte{spiRead(regFIFOData), spiRead(regFIFOData), spiRead(regFIFOData), 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 1, 2, 3}, rx)

	rx, err = sim.SPIExchange(nil)
	require.NoError(t, err)
	assert.Empty(t, rx)
}

func TestSPIExchange_MixedAddresses(t *testing.T) {
	t.Parallel()

	sim := NewVirtualMFRC522()
	_, err := sim.SPIExchange([]byte{spiRead(regVersion), spiWrite(regMode), 0x00})
	require.Error(t, err)
}

func TestI2CTx(t *testing.T) {
	t.Parallel()

	sim := NewVirtualMFRC522()

	r := make([]byte, 1)
	require.NoError(t, sim.I2CTx([]byte{regVersion}, r))
	assert.Equal(t, []byte{defaultVersion}, r)

	require.NoError(t, sim.I2CTx([]byte{regFIFOData, 0xAA, 0xBB}, nil))
	r = make([]byte, 1)
	require.NoError(t, sim.I2CTx([]byte{regFIFOLevel}, r))
	assert.Equal(t, byte(2), r[0])

	r = make([]byte, 2)
	require.NoError(t, sim.I2CTx([]byte{regFIFOData}, r))
	assert.Equal(t, []byte{0xAA, 0xBB}, r)

	require.Error(t, sim.I2CTx(nil, r))
}

func TestUARTFrontEnd(t *testing.T) {
	t.Parallel()

	sim := NewVirtualMFRC522()
	uart := NewUARTFrontEnd(sim)

	n, err := uart.Write([]byte{0x80 | regVersion})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, uart.Pending())

	buf := make([]byte, 4)
	n, err = uart.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{defaultVersion}, buf[:n])

	n, err = uart.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing pending reads as a timeout")

	// the address and value may arrive in separate writes
	_, err = uart.Write([]byte{regTMode})
	require.NoError(t, err)
	assert.Zero(t, uart.Pending())
	_, err = uart.Write([]byte{0x80})
	require.NoError(t, err)
	assert.Equal(t, byte(0x80), sim.Register(regTMode))

	n, err = uart.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{regTMode}, buf[:n], "write is echoed with the address")
}

func TestUARTFrontEnd_ClosedChip(t *testing.T) {
	t.Parallel()

	sim := NewVirtualMFRC522()
	uart := NewUARTFrontEnd(sim)
	require.NoError(t, sim.Close())

	n, err := uart.Write([]byte{regMode, 0x3D, 0x80 | regVersion})
	require.ErrorIs(t, err, ErrSimulatorClosed)
	assert.Equal(t, 1, n)
}
