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

	virt "github.com/ZaparooProject/go-mfrc522/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransceiveData_ShortFrame(t *testing.T) {
	t.Parallel()

	device, sim := newSimDevice(t, virt.NewVirtualMIFARE1K(nil))

	res, err := device.TransceiveData([]byte{0x26}, 7, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x00}, res.Data)
	assert.Zero(t, res.ValidBits)

	sent := sim.SentFrames()
	require.Len(t, sent, 1)
	assert.Equal(t, 7, sent[0].Bits)
}

func TestTransceiveData_NoCardTimesOut(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t)
	_, err := device.TransceiveData([]byte{0x26}, 7, 0, false)
	assert.Equal(t, StatusTimeout, Status(err))
}

func TestTransceiveData_Validation(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t)

	tests := []struct {
		name      string
		send      []byte
		validBits byte
		rxAlign   byte
	}{
		{name: "valid bits", send: []byte{0x26}, validBits: 8},
		{name: "rx align", send: []byte{0x26}, rxAlign: 8},
		{name: "oversized", send: make([]byte, 65)},
	}
	for _, tt := range tests {
		_, err := device.TransceiveData(tt.send, tt.validBits, tt.rxAlign, false)
		assert.Equal(t, StatusInvalid, Status(err), tt.name)
	}
}

func TestTransceiveData_ErrorRegister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bits byte
	}{
		{name: "protocol", bits: 0x01},
		{name: "parity", bits: 0x02},
		{name: "buffer overflow", bits: 0x10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			device, sim := newSimDevice(t, virt.NewVirtualMIFARE1K(nil))
			sim.ForceErrorBits(tt.bits)

			_, err := device.RequestA()
			assert.Equal(t, StatusError, Status(err))
			assert.ErrorIs(t, err, ErrError)
		})
	}
}

func TestTransceiveData_CRCCheck(t *testing.T) {
	t.Parallel()

	payload := []byte{0x01, 0x02, 0x03}
	crc := CRCA(payload)
	good := append(append([]byte(nil), payload...), crc[:]...)
	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xFF

	tests := []struct {
		name     string
		response []byte
		lastBits int
		want     StatusCode
	}{
		{name: "valid", response: good, want: StatusOK},
		{name: "corrupted", response: bad, want: StatusCRCWrong},
		{name: "too short", response: []byte{0x01}, want: StatusCRCWrong},
		{name: "partial byte", response: good, lastBits: 3, want: StatusCRCWrong},
		{name: "NAK", response: []byte{0x04}, lastBits: 4, want: StatusMifareNack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			device, sim := newSimDevice(t)
			sim.InjectResponse(tt.response, tt.lastBits)

			res, err := device.TransceiveData([]byte{0x30, 0x04}, 0, 0, true)
			assert.Equal(t, tt.want, Status(err))
			if tt.want == StatusOK {
				assert.Equal(t, good, res.Data, "CRC bytes stay in the result")
			}
		})
	}
}

func TestTransceiveData_RxAlignMasksLowBits(t *testing.T) {
	t.Parallel()

	device, sim := newSimDevice(t)
	sim.InjectResponse([]byte{0xFF, 0x0F}, 4)

	res, err := device.TransceiveData([]byte{0x01}, 0, 3, false)
	require.NoError(t, err)
	require.NotEmpty(t, res.Data)
	assert.Zero(t, res.Data[0]&0x07, "bits below rxAlign are cleared")
}

func TestTransceiveData_NoRoom(t *testing.T) {
	t.Parallel()

	device, sim := newSimDevice(t)
	sim.InjectResponse(make([]byte, 20), 0)

	_, err := device.MIFARERead(4)
	assert.Equal(t, StatusNoRoom, Status(err))
	assert.ErrorIs(t, err, ErrNoRoom)
}

func TestTransceiveData_TransportFailure(t *testing.T) {
	t.Parallel()

	device, sim := newSimDevice(t)
	require.NoError(t, sim.Close())

	_, err := device.TransceiveData([]byte{0x26}, 7, 0, false)
	require.Error(t, err)
	assert.Equal(t, StatusError, Status(err))
	assert.ErrorIs(t, err, virt.ErrSimulatorClosed)
}
