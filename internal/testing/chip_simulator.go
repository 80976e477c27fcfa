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

// Package testing provides test utilities including a register-level
// MFRC522 simulator.
//
// VirtualMFRC522 exposes the chip's register file through the same
// method set as mfrc522.Transport. Writes to CommandReg and the StartSend
// bit run the chip commands synchronously against the VirtualCards in the
// field, so the host side sees completed interrupts on its first poll.
//
// Modelled: FIFO, ComIrqReg/DivIrqReg set/clear semantics, ErrorReg,
// CollReg, ControlReg.RxLastBits, Status2Reg.MFCrypto1On, the CRC
// coprocessor with the ModeReg preset, TxLastBits/RxAlign bit framing,
// soft reset and power-down, and the antenna driver. Several cards
// answering together are superposed bit by bit; the first differing bit
// is a collision. CollPos for an ANTICOLLISION frame counts from the
// first UID bit of the cascade level, for any other frame from the first
// received bit.
package testing

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-mfrc522/internal/syncutil"
)

// Register addresses, mirrored from the mfrc522 package
const (
	regCommand     = 0x01
	regComIrq      = 0x04
	regDivIrq      = 0x05
	regError       = 0x06
	regStatus2     = 0x08
	regFIFOData    = 0x09
	regFIFOLevel   = 0x0A
	regControl     = 0x0C
	regBitFraming  = 0x0D
	regColl        = 0x0E
	regMode        = 0x11
	regTxControl   = 0x14
	regCRCResultH  = 0x21
	regCRCResultL  = 0x22
	regRFCfg       = 0x26
	regTMode       = 0x2A
	regVersion     = 0x37
	registerCount  = 0x40
	fifoSize       = 64
	defaultVersion = 0x92
)

// PCD commands
const (
	cmdIdle       = 0x00
	cmdCalcCRC    = 0x03
	cmdTransceive = 0x0C
	cmdMFAuthent  = 0x0E
	cmdSoftReset  = 0x0F
)

// Register bits
const (
	commandPowerDown = 0x10
	commandMask      = 0x0F
	irqSetBit        = 0x80
	irqTx            = 0x40
	irqRx            = 0x20
	irqIdle          = 0x10
	irqTimer         = 0x01
	divIrqCRC        = 0x04
	errBufferOvfl    = 0x10
	errColl          = 0x08
	status2Crypto1On = 0x08
	fifoFlush        = 0x80
	startSend        = 0x80
	valuesAfterColl  = 0x80
	collPosNotValid  = 0x20
	antennaBits      = 0x03
)

// ErrSimulatorClosed is returned after Close
var ErrSimulatorClosed = errors.New("simulator closed")

// SentFrame records one frame the chip put on the air
type SentFrame struct {
	Data []byte
	Bits int
}

// VirtualMFRC522 simulates an MFRC522 at the register level
type VirtualMFRC522 struct {
	injected       *frame
	cards          []*VirtualCard
	fifo           []byte
	sent           []SentFrame
	regs           [registerCount]byte
	mu             syncutil.Mutex
	forceErrorBits byte
	stallCRC       bool
	suppressTimer  bool
	corruptNextCRC bool
	nakNext        bool
	closed         bool
}

// NewVirtualMFRC522 creates a simulator in its power-on state with the
// antenna off and no cards in the field
func NewVirtualMFRC522() *VirtualMFRC522 {
	v := &VirtualMFRC522{}
	v.resetRegisters()
	return v
}

func (v *VirtualMFRC522) resetRegisters() {
	v.regs = [registerCount]byte{}
	v.regs[regCommand] = 0x20
	v.regs[regComIrq] = 0x14
	v.regs[regControl] = 0x10
	v.regs[regColl] = valuesAfterColl
	v.regs[regMode] = 0x3F
	v.regs[regTxControl] = 0x80
	v.regs[regRFCfg] = 0x48
	v.regs[regVersion] = defaultVersion
	v.fifo = v.fifo[:0]
	v.fieldChanged()
}

// AddCard places a card in the field
func (v *VirtualMFRC522) AddCard(card *VirtualCard) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.regs[regTxControl]&antennaBits == 0 {
		card.powerOff()
	}
	v.cards = append(v.cards, card)
}

// RemoveCard takes a card out of the field
func (v *VirtualMFRC522) RemoveCard(card *VirtualCard) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, c := range v.cards {
		if c == card {
			card.powerOff()
			v.cards = append(v.cards[:i], v.cards[i+1:]...)
			return
		}
	}
}

// RemoveAllCards empties the field
func (v *VirtualMFRC522) RemoveAllCards() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.cards {
		c.powerOff()
	}
	v.cards = nil
}

// SetVersion sets the VersionReg value
func (v *VirtualMFRC522) SetVersion(version byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.regs[regVersion] = version
}

// StallCRC keeps the CRC coprocessor from ever completing
func (v *VirtualMFRC522) StallCRC(stall bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stallCRC = stall
}

// SuppressTimer keeps TimerIRq from firing when nobody answers, leaving
// the host to its own deadline
func (v *VirtualMFRC522) SuppressTimer(suppress bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.suppressTimer = suppress
}

// ForceErrorBits ORs bits into ErrorReg after the next transceive
func (v *VirtualMFRC522) ForceErrorBits(bits byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.forceErrorBits = bits
}

// CorruptNextCRC flips a bit in the CRC of the next card answer that
// carries one
func (v *VirtualMFRC522) CorruptNextCRC() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corruptNextCRC = true
}

// NAKNextFrame replaces the next ACK a card sends with a NAK
func (v *VirtualMFRC522) NAKNextFrame() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nakNext = true
}

// InjectResponse makes the next transceive receive data instead of
// asking the cards. lastBits is the number of valid bits of the last
// byte, 0 for all 8.
func (v *VirtualMFRC522) InjectResponse(data []byte, lastBits int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	bits := 8 * len(data)
	if lastBits != 0 {
		bits = 8*(len(data)-1) + lastBits
	}
	v.injected = &frame{data: append([]byte(nil), data...), bits: bits}
}

// SentFrames returns the frames transmitted so far
func (v *VirtualMFRC522) SentFrames() []SentFrame {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]SentFrame, len(v.sent))
	copy(out, v.sent)
	return out
}

// ClearSentFrames empties the frame log
func (v *VirtualMFRC522) ClearSentFrames() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sent = nil
}

// Register returns the raw value of a register without side effects
func (v *VirtualMFRC522) Register(reg byte) byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.regs[reg&0x3F]
}

// ReadRegister reads one register
func (v *VirtualMFRC522) ReadRegister(reg byte) (byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.check(reg); err != nil {
		return 0, err
	}
	return v.read(reg), nil
}

// ReadRegisters reads count bytes from reg
func (v *VirtualMFRC522) ReadRegisters(reg byte, count int) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.check(reg); err != nil {
		return nil, err
	}
	out := make([]byte, count)
	for i := range out {
		out[i] = v.read(reg)
	}
	return out, nil
}

// WriteRegister writes one register
func (v *VirtualMFRC522) WriteRegister(reg, value byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.check(reg); err != nil {
		return err
	}
	v.write(reg, value)
	return nil
}

// WriteRegisters writes values to reg in order
func (v *VirtualMFRC522) WriteRegisters(reg byte, values []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.check(reg); err != nil {
		return err
	}
	for _, value := range values {
		v.write(reg, value)
	}
	return nil
}

// Close makes every further access fail
func (v *VirtualMFRC522) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

func (v *VirtualMFRC522) check(reg byte) error {
	if v.closed {
		return ErrSimulatorClosed
	}
	if reg >= registerCount {
		return fmt.Errorf("register 0x%02X out of range", reg)
	}
	return nil
}

func (v *VirtualMFRC522) read(reg byte) byte {
	switch reg {
	case regFIFOData:
		if len(v.fifo) == 0 {
			return 0
		}
		b := v.fifo[0]
		v.fifo = v.fifo[1:]
		return b
	case regFIFOLevel:
		return byte(len(v.fifo))
	default:
		return v.regs[reg]
	}
}

func (v *VirtualMFRC522) write(reg, value byte) {
	switch reg {
	case regCommand:
		v.writeCommand(value)
	case regComIrq, regDivIrq:
		// bit 7 selects whether the marked bits are set or cleared
		mask := value &^ irqSetBit
		if value&irqSetBit != 0 {
			v.regs[reg] |= mask
		} else {
			v.regs[reg] &^= mask
		}
	case regFIFOData:
		if len(v.fifo) >= fifoSize {
			v.regs[regError] |= errBufferOvfl
			return
		}
		v.fifo = append(v.fifo, value)
	case regFIFOLevel:
		if value&fifoFlush != 0 {
			v.fifo = v.fifo[:0]
			v.regs[regError] &^= errBufferOvfl
		}
	case regBitFraming:
		v.regs[reg] = value &^ startSend
		if value&startSend != 0 && v.regs[regCommand]&commandMask == cmdTransceive {
			v.transceive()
		}
	case regStatus2:
		// MFCrypto1On can only be cleared by the host
		crypto := v.regs[reg] & status2Crypto1On & value
		v.regs[reg] = value&^status2Crypto1On | crypto
		if crypto == 0 {
			for _, c := range v.cards {
				c.authSector = -1
			}
		}
	case regColl:
		v.regs[reg] = v.regs[reg]&^valuesAfterColl | value&valuesAfterColl
	case regTxControl:
		before := v.regs[reg] & antennaBits
		v.regs[reg] = value
		if before != value&antennaBits {
			v.fieldChanged()
		}
	case regError, regVersion:
		// read-only
	default:
		v.regs[reg] = value
	}
}

// fieldChanged power cycles the cards when the antenna switches
func (v *VirtualMFRC522) fieldChanged() {
	for _, c := range v.cards {
		c.powerOff()
	}
}

func (v *VirtualMFRC522) writeCommand(value byte) {
	v.regs[regCommand] = value & (commandPowerDown | commandMask | 0x20)
	if value&commandPowerDown != 0 {
		return
	}

	switch value & commandMask {
	case cmdSoftReset:
		v.resetRegisters()
	case cmdCalcCRC:
		v.calcCRC()
	case cmdMFAuthent:
		v.mfAuthent()
	case cmdIdle:
	}
}

func (v *VirtualMFRC522) crcPreset() uint16 {
	switch v.regs[regMode] & 0x03 {
	case 0x00:
		return 0x0000
	case 0x01:
		return 0x6363
	case 0x02:
		return 0xA671
	default:
		return 0xFFFF
	}
}

func (v *VirtualMFRC522) calcCRC() {
	if v.stallCRC {
		return
	}
	crc := crc16(v.fifo, v.crcPreset())
	v.fifo = v.fifo[:0]
	v.regs[regCRCResultL] = crc[0]
	v.regs[regCRCResultH] = crc[1]
	v.regs[regDivIrq] |= divIrqCRC
}

func (v *VirtualMFRC522) antennaOn() bool {
	return v.regs[regTxControl]&antennaBits != 0
}

func (v *VirtualMFRC522) timeout() {
	if !v.suppressTimer && v.regs[regTMode]&0x80 != 0 {
		v.regs[regComIrq] |= irqTimer
	}
}

func (v *VirtualMFRC522) mfAuthent() {
	data := v.fifo
	v.fifo = v.fifo[:0]
	v.regs[regComIrq] |= irqTx
	if len(data) != 12 || !v.antennaOn() {
		v.timeout()
		return
	}
	keyType, block, key, uid := data[0], int(data[1]), data[2:8], data[8:12]

	for _, c := range v.cards {
		if c.State != CardActive || !c.Present || string(c.UID[len(c.UID)-4:]) != string(uid) {
			continue
		}
		if c.authenticate(keyType, block, key) {
			v.regs[regStatus2] |= status2Crypto1On
			v.regs[regComIrq] |= irqIdle
			return
		}
	}
	v.timeout()
}

func (v *VirtualMFRC522) transceive() {
	tx := append([]byte(nil), v.fifo...)
	v.fifo = v.fifo[:0]
	lastBits := int(v.regs[regBitFraming] & 0x07)
	rxAlign := int(v.regs[regBitFraming]>>4) & 0x07

	bits := 8 * len(tx)
	if lastBits != 0 && len(tx) > 0 {
		bits = 8*(len(tx)-1) + lastBits
	}
	sent := frame{data: tx, bits: bits}
	v.sent = append(v.sent, SentFrame{Data: tx, Bits: bits})

	v.regs[regError] = 0
	v.regs[regColl] &= valuesAfterColl
	v.regs[regComIrq] |= irqTx

	var answers []frame
	switch {
	case v.injected != nil:
		answers = []frame{*v.injected}
		v.injected = nil
	case v.antennaOn():
		for _, c := range v.cards {
			if resp, ok := c.handle(sent); ok && resp.bits > 0 {
				answers = append(answers, resp)
			}
		}
	}
	v.applyFaults(answers)

	v.regs[regError] |= v.forceErrorBits
	v.forceErrorBits = 0

	if len(answers) == 0 {
		v.timeout()
		return
	}

	rx, collisionAt := superpose(answers, v.regs[regColl]&valuesAfterColl != 0)
	if collisionAt >= 0 {
		v.regs[regError] |= errColl
		v.regs[regColl] |= v.collPos(sent, collisionAt)
	}

	// shift the received bits to start at rxAlign
	aligned := make([]byte, rxAlign, rxAlign+len(rx))
	aligned = append(aligned, rx...)
	v.fifo = append(v.fifo[:0], packBits(aligned)...)
	if len(v.fifo) > fifoSize {
		v.fifo = v.fifo[:fifoSize]
		v.regs[regError] |= errBufferOvfl
	}
	v.regs[regControl] = v.regs[regControl]&^0x07 | byte(len(aligned)%8)
	v.regs[regComIrq] |= irqRx
}

// collPos encodes a collision at bit index idx of the answer
func (v *VirtualMFRC522) collPos(sent frame, idx int) byte {
	pos := idx + 1
	if isAnticollision(sent) {
		pos += sent.bits - 16
	} else {
		pos += int(v.regs[regBitFraming]>>4) & 0x07
	}
	if pos > 32 {
		return collPosNotValid
	}
	return byte(pos % 32)
}

func isAnticollision(f frame) bool {
	if len(f.data) < 2 {
		return false
	}
	switch f.data[0] {
	case piccSelCL1, piccSelCL2, piccSelCL3:
		return f.data[1] != nvbSelect
	default:
		return false
	}
}

func (v *VirtualMFRC522) applyFaults(answers []frame) {
	for i := range answers {
		a := &answers[i]
		if v.nakNext && a.bits == 4 && a.data[0] == mifareACK {
			a.data = []byte{mifareNAK}
			v.nakNext = false
		}
		if v.corruptNextCRC && a.bits%8 == 0 && len(a.data) >= 3 {
			a.data = append([]byte(nil), a.data...)
			a.data[len(a.data)-1] ^= 0x01
			v.corruptNextCRC = false
		}
	}
}

// superpose combines simultaneous answers. It returns the received bits
// and the index of the first collision, or -1.
func superpose(answers []frame, keepAfterColl bool) (rx []byte, collisionAt int) {
	collisionAt = -1
	longest := 0
	for _, a := range answers {
		longest = max(longest, a.bits)
	}
	rx = make([]byte, longest)
	for i := range longest {
		var ones, zeros int
		for _, a := range answers {
			if i >= a.bits {
				continue
			}
			if bitAt(a.data, i) == 1 {
				ones++
			} else {
				zeros++
			}
		}
		if ones > 0 && zeros > 0 && collisionAt < 0 {
			collisionAt = i
		}
		if collisionAt >= 0 && !keepAfterColl {
			rx[i] = 0
			continue
		}
		if ones > 0 {
			rx[i] = 1
		}
	}
	return rx, collisionAt
}
