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

package mfrc522

import (
	"fmt"

	"github.com/ZaparooProject/go-mfrc522/internal/syncutil"
)

// Transport is the synchronous register link to an MFRC522. It can be
// implemented by SPI, I2C or UART backends. Register addresses are the
// datasheet addresses (0x00-0x3F); the transport owns the bus-specific
// address byte encoding.
type Transport interface {
	// ReadRegister reads a single register
	ReadRegister(reg byte) (byte, error)

	// ReadRegisters reads count bytes from the same register (FIFO burst)
	ReadRegisters(reg byte, count int) ([]byte, error)

	// WriteRegister writes a single register
	WriteRegister(reg, value byte) error

	// WriteRegisters writes values to the same register (FIFO burst)
	WriteRegisters(reg byte, values []byte) error

	// Close closes the transport connection
	Close() error

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportSPI represents SPI bus transport.
	TransportSPI TransportType = "spi"
	// TransportI2C represents I2C bus transport.
	TransportI2C TransportType = "i2c"
	// TransportUART represents UART/serial transport.
	TransportUART TransportType = "uart"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// RegisterWrite records a single register write made through MockTransport
type RegisterWrite struct {
	Reg   byte
	Value byte
}

// MockTransport is a plain register file implementing Transport. It does
// not execute chip commands; use it to test register-level behavior such
// as antenna control. Protocol tests use the chip simulator instead.
type MockTransport struct {
	readQueue map[byte][]byte
	errorMap  map[byte]error
	writes    []RegisterWrite
	regs      [0x40]byte
	mu        syncutil.RWMutex
	closed    bool
}

// NewMockTransport creates a new mock transport with all registers zero
func NewMockTransport() *MockTransport {
	return &MockTransport{
		readQueue: make(map[byte][]byte),
		errorMap:  make(map[byte]error),
	}
}

func (m *MockTransport) check(reg byte) error {
	if m.closed {
		return NewTransportClosedError("mock", "mock")
	}
	if int(reg) >= len(m.regs) {
		return NewInvalidParameterError(fmt.Sprintf("register 0x%02X", reg), "mock")
	}
	if err, ok := m.errorMap[reg]; ok {
		return err
	}
	return nil
}

func (m *MockTransport) read(reg byte) byte {
	if q := m.readQueue[reg]; len(q) > 0 {
		m.readQueue[reg] = q[1:]
		return q[0]
	}
	return m.regs[reg]
}

// ReadRegister implements Transport
func (m *MockTransport) ReadRegister(reg byte) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(reg); err != nil {
		return 0, err
	}
	return m.read(reg), nil
}

// ReadRegisters implements Transport
func (m *MockTransport) ReadRegisters(reg byte, count int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(reg); err != nil {
		return nil, err
	}
	out := make([]byte, count)
	for i := range out {
		out[i] = m.read(reg)
	}
	return out, nil
}

// WriteRegister implements Transport
func (m *MockTransport) WriteRegister(reg, value byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(reg); err != nil {
		return err
	}
	m.regs[reg] = value
	m.writes = append(m.writes, RegisterWrite{Reg: reg, Value: value})
	return nil
}

// WriteRegisters implements Transport
func (m *MockTransport) WriteRegisters(reg byte, values []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(reg); err != nil {
		return err
	}
	for _, v := range values {
		m.regs[reg] = v
		m.writes = append(m.writes, RegisterWrite{Reg: reg, Value: v})
	}
	return nil
}

// Close implements Transport
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Type implements Transport
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// SetRegister sets the stored value of a register
func (m *MockTransport) SetRegister(reg, value byte) {
	m.mu.Lock()
	m.regs[reg] = value
	m.mu.Unlock()
}

// Register returns the stored value of a register
func (m *MockTransport) Register(reg byte) byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regs[reg]
}

// QueueReads makes the next reads of reg return values in order before
// falling back to the stored register value
func (m *MockTransport) QueueReads(reg byte, values ...byte) {
	m.mu.Lock()
	m.readQueue[reg] = append(m.readQueue[reg], values...)
	m.mu.Unlock()
}

// SetError configures an error to be returned for any access to reg
func (m *MockTransport) SetError(reg byte, err error) {
	m.mu.Lock()
	m.errorMap[reg] = err
	m.mu.Unlock()
}

// ClearError removes error injection for a register
func (m *MockTransport) ClearError(reg byte) {
	m.mu.Lock()
	delete(m.errorMap, reg)
	m.mu.Unlock()
}

// Writes returns a copy of all register writes so far
func (m *MockTransport) Writes() []RegisterWrite {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RegisterWrite, len(m.writes))
	copy(out, m.writes)
	return out
}

// Reset clears the write log and reopens the transport
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.writes = nil
	m.closed = false
	m.mu.Unlock()
}
