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
	"bytes"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-mfrc522/internal/syncutil"
)

// Bus front ends decode the host interface framing of the chip and
// forward register accesses to a VirtualMFRC522. Transport tests plug
// them behind mock periph.io and serial connections.

// SPIExchange performs one full-duplex SPI transaction. The first byte is
// an address byte ((reg<<1)&0x7E, MSB set for reads). A read transaction
// clocks out the register addressed by each byte in the following slot;
// a write transaction stores every following byte into the addressed
// register.
func (v *VirtualMFRC522) SPIExchange(tx []byte) ([]byte, error) {
	rx := make([]byte, len(tx))
	if len(tx) == 0 {
		return rx, nil
	}

	if tx[0]&0x80 == 0 {
		reg := (tx[0] >> 1) & 0x3F
		return rx, v.WriteRegisters(reg, tx[1:])
	}

	for i := 0; i < len(tx)-1; i++ {
		if tx[i]&0x80 == 0 {
			return nil, fmt.Errorf("SPI read sequence has write address 0x%02X at %d", tx[i], i)
		}
		value, err := v.ReadRegister((tx[i] >> 1) & 0x3F)
		if err != nil {
			return nil, err
		}
		rx[i+1] = value
	}
	return rx, nil
}

// I2CTx performs one I2C transaction: w starts with the register
// address, any further bytes are written to it; r is filled by reading
// the same register repeatedly.
func (v *VirtualMFRC522) I2CTx(w, r []byte) error {
	if len(w) == 0 {
		return errors.New("I2C transaction without register address")
	}
	reg := w[0] & 0x3F
	if len(w) > 1 {
		if err := v.WriteRegisters(reg, w[1:]); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		data, err := v.ReadRegisters(reg, len(r))
		if err != nil {
			return err
		}
		copy(r, data)
	}
	return nil
}

// UARTFrontEnd is the chip's UART interface as an io.ReadWriter. A byte
// with the MSB set reads a register and answers its value; a byte with
// the MSB clear selects a register for writing, the next byte is the
// value and the chip echoes the address.
type UARTFrontEnd struct {
	sim     *VirtualMFRC522
	out     bytes.Buffer
	mu      syncutil.Mutex
	pending int // register awaiting its value, -1 if none
}

// NewUARTFrontEnd wraps sim with the UART framing
func NewUARTFrontEnd(sim *VirtualMFRC522) *UARTFrontEnd {
	return &UARTFrontEnd{sim: sim, pending: -1}
}

// Write feeds host bytes into the chip
func (u *UARTFrontEnd) Write(data []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for i, b := range data {
		if u.pending >= 0 {
			reg := byte(u.pending)
			u.pending = -1
			if err := u.sim.WriteRegister(reg, b); err != nil {
				return i, err
			}
			_ = u.out.WriteByte(reg)
			continue
		}
		if b&0x80 != 0 {
			value, err := u.sim.ReadRegister(b & 0x3F)
			if err != nil {
				return i, err
			}
			_ = u.out.WriteByte(value)
			continue
		}
		u.pending = int(b & 0x3F)
	}
	return len(data), nil
}

// Read returns chip answers. It returns 0 bytes when nothing is pending,
// like a serial port whose read timeout expired.
func (u *UARTFrontEnd) Read(buf []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.out.Len() == 0 {
		return 0, nil
	}
	n, err := u.out.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read UART output: %w", err)
	}
	return n, nil
}

// Pending returns the number of answer bytes not yet read
func (u *UARTFrontEnd) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.out.Len()
}
