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

// Package uart provides UART transport implementation for MFRC522
package uart

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/go-mfrc522"
	"github.com/ZaparooProject/go-mfrc522/internal/syncutil"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the rate the chip starts with after power-on
	DefaultBaudRate = 9600

	addrRead = 0x80
	addrMask = 0x3F

	regSerialSpeed = 0x1F

	traceSize = 16
)

// serialSpeeds maps baud rates to SerialSpeedReg values (BR_T0/BR_T1)
var serialSpeeds = map[int]byte{
	9600:    0xEB,
	14400:   0xDA,
	19200:   0xCB,
	38400:   0xAB,
	57600:   0x9A,
	115200:  0x7A,
	128000:  0x74,
	230400:  0x5A,
	460800:  0x3A,
	921600:  0x1C,
	1228800: 0x15,
}

// Transport implements the mfrc522.Transport interface for UART communication.
type Transport struct {
	port     serial.Port
	trace    *mfrc522.TraceBuffer
	portName string
	timeout  time.Duration
	baudRate int
	mu       syncutil.Mutex
	closed   bool
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// getWindowsTimeout returns the per-read timeout for the platform
func getWindowsTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// New opens portName at the chip's power-on rate of 9600 baud
func New(portName string) (*Transport, error) {
	return NewWithBaudRate(portName, DefaultBaudRate)
}

// NewWithBaudRate opens portName at baud. The chip must already be
// running at that rate, see SetBaudRate.
func NewWithBaudRate(portName string, baud int) (*Transport, error) {
	if _, ok := serialSpeeds[baud]; !ok {
		return nil, fmt.Errorf("unsupported baud rate %d: %w", baud, mfrc522.ErrInvalidParameter)
	}

	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	timeout := getWindowsTimeout()
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}

	return newTransport(port, portName, baud), nil
}

func newTransport(port serial.Port, portName string, baud int) *Transport {
	return &Transport{
		port:     port,
		portName: portName,
		timeout:  4 * getWindowsTimeout(),
		baudRate: baud,
		trace:    mfrc522.NewTraceBuffer("UART", portName, traceSize),
	}
}

// ReadRegister implements mfrc522.Transport
func (t *Transport) ReadRegister(reg byte) (byte, error) {
	data, err := t.ReadRegisters(reg, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// ReadRegisters implements mfrc522.Transport. The read requests are sent
// back to back; the chip answers one byte per request.
func (t *Transport) ReadRegisters(reg byte, count int) ([]byte, error) {
	if count <= 0 {
		return []byte{}, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	const op = "read register"
	req := make([]byte, count)
	for i := range req {
		req[i] = addrRead | reg&addrMask
	}
	if err := t.send(op, req); err != nil {
		return nil, err
	}
	data, err := t.receive(op, count)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteRegister implements mfrc522.Transport
func (t *Transport) WriteRegister(reg, value byte) error {
	return t.WriteRegisters(reg, []byte{value})
}

// WriteRegisters implements mfrc522.Transport. Every value is sent as an
// address/value pair and acknowledged by an echo of the address.
func (t *Transport) WriteRegisters(reg byte, values []byte) error {
	if len(values) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	const op = "write register"
	addr := reg & addrMask
	req := make([]byte, 0, 2*len(values))
	for _, v := range values {
		req = append(req, addr, v)
	}
	if err := t.send(op, req); err != nil {
		return err
	}

	echo, err := t.receive(op, len(values))
	if err != nil {
		return err
	}
	for _, b := range echo {
		if b != addr {
			t.resync()
			return t.trace.WrapError(mfrc522.NewTransportError(op, t.portName,
				fmt.Errorf("%w: echo 0x%02X for register 0x%02X", mfrc522.ErrInvalidResponse, b, addr),
				mfrc522.ErrorTypeTransient))
		}
	}
	return nil
}

// SetBaudRate switches the chip and the host port to baud. Both sides
// must agree afterwards, so a failed switch leaves the link unusable
// until the chip is reset.
func (t *Transport) SetBaudRate(baud int) error {
	speed, ok := serialSpeeds[baud]
	if !ok {
		return fmt.Errorf("unsupported baud rate %d: %w", baud, mfrc522.ErrInvalidParameter)
	}
	if err := t.WriteRegister(regSerialSpeed, speed); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.port.SetMode(&serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}); err != nil {
		return fmt.Errorf("UART set mode failed: %w", err)
	}
	t.baudRate = baud
	return nil
}

// BaudRate returns the current host side rate
func (t *Transport) BaudRate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baudRate
}

// SetTimeout sets how long a register access may wait for the chip
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %w", mfrc522.ErrInvalidParameter)
	}
	t.mu.Lock()
	t.timeout = timeout
	t.mu.Unlock()
	return nil
}

func (t *Transport) send(op string, data []byte) error {
	if t.closed {
		return mfrc522.NewTransportClosedError(op, t.portName)
	}

	t.trace.RecordTX(data, op)
	if _, err := t.port.Write(data); err != nil {
		return t.trace.WrapError(mfrc522.NewTransportError(op, t.portName,
			fmt.Errorf("%w: %w", mfrc522.ErrTransportWrite, err), mfrc522.ErrorTypeTransient))
	}
	return t.drainWithRetry(op)
}

// receive reads exactly n bytes or fails once the transport timeout has
// passed without completing them
func (t *Transport) receive(op string, n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(t.timeout)

	for got < n {
		k, err := t.port.Read(buf[got:])
		if err != nil {
			return nil, t.trace.WrapError(mfrc522.NewTransportError(op, t.portName,
				fmt.Errorf("%w: %w", mfrc522.ErrTransportRead, err), mfrc522.ErrorTypeTransient))
		}
		got += k
		if got < n && time.Now().After(deadline) {
			t.trace.RecordTimeout(fmt.Sprintf("%s: %d of %d bytes", op, got, n))
			t.resync()
			return nil, t.trace.WrapError(mfrc522.NewTimeoutError(op, t.portName))
		}
	}

	t.trace.RecordRX(buf, op)
	return buf, nil
}

// resync discards late answers so they are not taken for the next one
func (t *Transport) resync() {
	_ = t.port.ResetInputBuffer()
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry waits for the output to be sent, retrying interrupted
// system calls
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := t.port.Drain()
		if err == nil {
			return nil
		}

		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
			continue
		}

		return t.trace.WrapError(mfrc522.NewTransportError(operation, t.portName,
			fmt.Errorf("%w: drain: %w", mfrc522.ErrTransportWrite, err), mfrc522.ErrorTypeTransient))
	}

	return fmt.Errorf("UART %s drain failed after %d retries", operation, maxRetries)
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
			return fmt.Errorf("UART close failed: %w", err)
		}
	}
	return nil
}

// Type implements mfrc522.Transport
func (*Transport) Type() mfrc522.TransportType {
	return mfrc522.TransportUART
}

// Ensure Transport implements mfrc522.Transport
var _ mfrc522.Transport = (*Transport)(nil)
