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

// Package spi provides SPI transport implementation for MFRC522
package spi

import (
	"fmt"

	"github.com/ZaparooProject/go-mfrc522"
	"github.com/ZaparooProject/go-mfrc522/internal/syncutil"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// Address byte layout: bit 7 selects read, bits 6..1 carry the register,
	// bit 0 is always zero.
	addrRead = 0x80
	addrMask = 0x7E

	// The chip accepts up to 10 Mbit/s; 4 MHz leaves room for long wires.
	defaultFreq = 4 * physic.MegaHertz
	mode        = spi.Mode0 // CPOL=0, CPHA=0, MSB first

	traceSize = 16
)

// Config tunes the SPI connection
type Config struct {
	// Frequency is the bus clock. Zero selects 4 MHz.
	Frequency physic.Frequency
}

// Transport implements the mfrc522.Transport interface for SPI communication
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	trace    *mfrc522.TraceBuffer // last bus transactions, attached to errors
	portName string
	mu       syncutil.Mutex
	closed   bool
}

// New creates a new SPI transport on portName (e.g. "/dev/spidev0.0"
// or "SPI0.0") using the default clock
func New(portName string) (*Transport, error) {
	return NewWithConfig(portName, Config{})
}

// NewWithConfig creates a new SPI transport with explicit settings
func NewWithConfig(portName string, cfg Config) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	freq := cfg.Frequency
	if freq == 0 {
		freq = defaultFreq
	}

	conn, err := port.Connect(freq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to configure SPI port %s: %w", portName, err)
	}

	return newTransport(port, conn, portName), nil
}

func newTransport(port spi.PortCloser, conn spi.Conn, portName string) *Transport {
	return &Transport{
		port:     port,
		conn:     conn,
		portName: portName,
		trace:    mfrc522.NewTraceBuffer("SPI", portName, traceSize),
	}
}

func readAddr(reg byte) byte {
	return (reg<<1)&addrMask | addrRead
}

func writeAddr(reg byte) byte {
	return (reg << 1) & addrMask
}

// ReadRegister implements mfrc522.Transport
func (t *Transport) ReadRegister(reg byte) (byte, error) {
	rx, err := t.ReadRegisters(reg, 1)
	if err != nil {
		return 0, err
	}
	return rx[0], nil
}

// ReadRegisters implements mfrc522.Transport. The address byte is repeated
// count times; every slot clocks out the value addressed in the previous
// one and a trailing zero terminates the burst.
func (t *Transport) ReadRegisters(reg byte, count int) ([]byte, error) {
	if count <= 0 {
		return []byte{}, nil
	}

	tx := make([]byte, count+1)
	addr := readAddr(reg)
	for i := 0; i < count; i++ {
		tx[i] = addr
	}
	rx := make([]byte, len(tx))

	if err := t.exchange("read register", tx, rx, mfrc522.ErrTransportRead); err != nil {
		return nil, err
	}
	return rx[1:], nil
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

	tx := make([]byte, 0, len(values)+1)
	tx = append(tx, writeAddr(reg))
	tx = append(tx, values...)

	return t.exchange("write register", tx, make([]byte, len(tx)), mfrc522.ErrTransportWrite)
}

func (t *Transport) exchange(op string, tx, rx []byte, kind error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return mfrc522.NewTransportClosedError(op, t.portName)
	}

	t.trace.RecordTX(tx, op)
	if err := t.conn.Tx(tx, rx); err != nil {
		return t.trace.WrapError(mfrc522.NewTransportError(
			op, t.portName, fmt.Errorf("%w: %w", kind, err), mfrc522.ErrorTypeTransient))
	}
	t.trace.RecordRX(rx, op)
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
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			return fmt.Errorf("failed to close SPI port: %w", err)
		}
	}
	return nil
}

// Type implements mfrc522.Transport
func (*Transport) Type() mfrc522.TransportType {
	return mfrc522.TransportSPI
}

// Ensure Transport implements mfrc522.Transport
var _ mfrc522.Transport = (*Transport)(nil)
