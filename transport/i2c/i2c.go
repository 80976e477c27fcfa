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

// Package i2c provides I2C transport implementation for MFRC522
package i2c

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ZaparooProject/go-mfrc522"
	"github.com/ZaparooProject/go-mfrc522/internal/syncutil"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultAddress is the 7-bit address with the EA pin low and the
	// ADR_x pins strapped the way common breakout boards ship.
	DefaultAddress = 0x28

	// Max clock frequency (400 kHz fast mode).
	maxClockFreq = 400 * physic.KiloHertz

	traceSize = 16
)

// Option configures the I2C transport
type Option func(*Transport)

// WithAddress selects a non-default 7-bit device address
func WithAddress(addr uint16) Option {
	return func(t *Transport) {
		t.dev.Addr = addr
	}
}

// Transport implements the mfrc522.Transport interface for I2C communication
type Transport struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser // Held so Close() can release the OS file descriptor
	trace   *mfrc522.TraceBuffer
	busName string
	mu      syncutil.Mutex
	closed  bool
}

// parseI2CPath splits a composite detection path such as
// "/dev/i2c-1:0x28" into bus and address. A bare bus path yields
// DefaultAddress.
func parseI2CPath(path string) (string, uint16, error) {
	bus, addr, found := strings.Cut(path, ":")
	if !found || addr == "" {
		return bus, DefaultAddress, nil
	}
	v, err := strconv.ParseUint(addr, 0, 7)
	if err != nil {
		return "", 0, fmt.Errorf("invalid I2C address %q: %w", addr, err)
	}
	return bus, uint16(v), nil
}

// New creates a new I2C transport. busName may carry an address suffix
// ("/dev/i2c-1:0x2B"); options applied afterwards take precedence.
func New(busName string, opts ...Option) (*Transport, error) {
	busPath, addr, err := parseI2CPath(busName)
	if err != nil {
		return nil, err
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busPath, err)
	}

	_ = bus.SetSpeed(maxClockFreq) // Ignore error, continue with default speed

	return newTransport(bus, busName, addr, opts...), nil
}

func newTransport(bus i2c.BusCloser, busName string, addr uint16, opts ...Option) *Transport {
	t := &Transport{
		dev:     &i2c.Dev{Addr: addr, Bus: bus},
		bus:     bus,
		busName: busName,
		trace:   mfrc522.NewTraceBuffer("I2C", busName, traceSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Address returns the 7-bit device address in use
func (t *Transport) Address() uint16 {
	return t.dev.Addr
}

// ReadRegister implements mfrc522.Transport
func (t *Transport) ReadRegister(reg byte) (byte, error) {
	data, err := t.ReadRegisters(reg, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// ReadRegisters implements mfrc522.Transport. The chip does not advance
// the address during a read, so a burst drains the same register.
func (t *Transport) ReadRegisters(reg byte, count int) ([]byte, error) {
	if count <= 0 {
		return []byte{}, nil
	}
	r := make([]byte, count)
	if err := t.tx("read register", []byte{reg & 0x3F}, r, mfrc522.ErrTransportRead); err != nil {
		return nil, err
	}
	return r, nil
}

// WriteRegister implements mfrc522.Transport
func (t *Transport) WriteRegister(reg, value byte) error {
	return t.WriteRegisters(reg, []byte{value})
}

// WriteRegisters implements mfrc522.Transport
func (t *Transport) WriteRegisters(reg byte, values []byte) error {
	if len(values) == 0 {
		return nil
	}
	w := make([]byte, 0, len(values)+1)
	w = append(w, reg&0x3F)
	w = append(w, values...)
	return t.tx("write register", w, nil, mfrc522.ErrTransportWrite)
}

func (t *Transport) tx(op string, w, r []byte, kind error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return mfrc522.NewTransportClosedError(op, t.busName)
	}

	t.trace.RecordTX(w, op)
	if err := t.dev.Tx(w, r); err != nil {
		return t.trace.WrapError(mfrc522.NewTransportError(
			op, t.busName, fmt.Errorf("%w: %w", kind, err), mfrc522.ErrorTypeTransient))
	}
	if len(r) > 0 {
		t.trace.RecordRX(r, op)
	}
	return nil
}

// Close implements mfrc522.Transport
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.bus != nil {
		if err := t.bus.Close(); err != nil {
			return fmt.Errorf("failed to close I2C bus: %w", err)
		}
	}
	return nil
}

// Type implements mfrc522.Transport
func (*Transport) Type() mfrc522.TransportType {
	return mfrc522.TransportI2C
}

// Ensure Transport implements mfrc522.Transport
var _ mfrc522.Transport = (*Transport)(nil)
