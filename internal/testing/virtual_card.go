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
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// ISO/IEC 14443-3 and MIFARE command bytes, mirrored from the mfrc522
// package to avoid an import cycle
const (
	piccREQA     = 0x26
	piccWUPA     = 0x52
	piccCT       = 0x88
	piccSelCL1   = 0x93
	piccSelCL2   = 0x95
	piccSelCL3   = 0x97
	piccHLTA     = 0x50
	piccAuthA    = 0x60
	piccAuthB    = 0x61
	piccRead     = 0x30
	piccWrite    = 0xA0
	piccDecr     = 0xC0
	piccIncr     = 0xC1
	piccRestore  = 0xC2
	piccTransfer = 0xB0
	piccULWrite  = 0xA2

	nvbSelect  = 0x70
	sakCascade = 0x04

	ultralightPageSize = 4

	// 4 bit answers
	mifareACK = 0x0A
	mifareNAK = 0x04
)

// Test UIDs
var (
	TestMIFARE1KUID   = []byte{0xDE, 0xAD, 0xBE, 0xEF}
	TestMIFARE4KUID   = []byte{0x11, 0x22, 0x33, 0x44}
	TestUltralightUID = []byte{0x04, 0x51, 0x6C, 0x12, 0x34, 0x56, 0x80}
	TestTripleSizeUID = []byte{0x08, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	DefaultKey        = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	defaultAccessBits = []byte{0xFF, 0x07, 0x80, 0x69}
)

// CardState is the ISO/IEC 14443-3 state of a VirtualCard
type CardState int

const (
	CardIdle CardState = iota
	CardReady
	CardActive
	CardHalt
)

func (s CardState) String() string {
	switch s {
	case CardIdle:
		return "idle"
	case CardReady:
		return "ready"
	case CardActive:
		return "active"
	case CardHalt:
		return "halt"
	default:
		return fmt.Sprintf("CardState(%d)", int(s))
	}
}

// CardKind selects the command set a VirtualCard answers
type CardKind int

const (
	KindMIFAREClassic CardKind = iota
	KindUltralight
)

// pending is the second half of a two step MIFARE command
type pending struct {
	cmd   byte
	block int
}

// frame is a bit-oriented frame on the air. Bits are packed LSB first.
type frame struct {
	data []byte
	bits int
}

func byteFrame(data []byte) frame {
	return frame{data: data, bits: 8 * len(data)}
}

// VirtualCard simulates an ISO/IEC 14443-3 type A card with MIFARE
// Classic or Ultralight memory
type VirtualCard struct {
	pending     *pending
	UID         []byte
	Memory      [][]byte
	ATQA        [2]byte
	Kind        CardKind
	State       CardState
	SAK         byte
	level       int
	authSector  int
	transferBuf []byte
	Present     bool
}

// NewVirtualMIFARE1K creates a MIFARE Classic 1K card with transport keys
func NewVirtualMIFARE1K(uid []byte) *VirtualCard {
	if uid == nil {
		uid = TestMIFARE1KUID
	}
	return newClassicCard(uid, 64, 0x08)
}

// NewVirtualMIFARE4K creates a MIFARE Classic 4K card with transport keys
func NewVirtualMIFARE4K(uid []byte) *VirtualCard {
	if uid == nil {
		uid = TestMIFARE4KUID
	}
	return newClassicCard(uid, 256, 0x18)
}

// NewVirtualUltralight creates a MIFARE Ultralight with 16 pages
func NewVirtualUltralight(uid []byte) *VirtualCard {
	if uid == nil {
		uid = TestUltralightUID
	}
	c := &VirtualCard{
		UID:        append([]byte(nil), uid...),
		Kind:       KindUltralight,
		SAK:        0x00,
		Memory:     make([][]byte, 16),
		authSector: -1,
		Present:    true,
	}
	c.ATQA = atqaFor(len(uid))
	for i := range c.Memory {
		c.Memory[i] = make([]byte, ultralightPageSize)
	}
	// pages 0-2 carry the UID and its check bytes
	if len(uid) == 7 {
		copy(c.Memory[0], []byte{uid[0], uid[1], uid[2], piccCT ^ uid[0] ^ uid[1] ^ uid[2]})
		copy(c.Memory[1], uid[3:7])
		c.Memory[2][0] = uid[3] ^ uid[4] ^ uid[5] ^ uid[6]
	}
	return c
}

func newClassicCard(uid []byte, blocks int, sak byte) *VirtualCard {
	c := &VirtualCard{
		UID:        append([]byte(nil), uid...),
		Kind:       KindMIFAREClassic,
		SAK:        sak,
		Memory:     make([][]byte, blocks),
		authSector: -1,
		Present:    true,
	}
	c.ATQA = atqaFor(len(uid))
	for i := range c.Memory {
		c.Memory[i] = make([]byte, 16)
		if isTrailer(i) {
			copy(c.Memory[i][0:6], DefaultKey)
			copy(c.Memory[i][6:10], defaultAccessBits)
			copy(c.Memory[i][10:16], DefaultKey)
		}
	}
	// manufacturer block
	copy(c.Memory[0], uid)
	if len(uid) == 4 {
		c.Memory[0][4] = uid[0] ^ uid[1] ^ uid[2] ^ uid[3]
		c.Memory[0][5] = sak
		c.Memory[0][6], c.Memory[0][7] = c.ATQA[0], c.ATQA[1]
	}
	return c
}

// atqaFor encodes the UID size in ATQA bits 7-6
func atqaFor(uidLen int) [2]byte {
	switch uidLen {
	case 7:
		return [2]byte{0x44, 0x00}
	case 10:
		return [2]byte{0x84, 0x00}
	default:
		return [2]byte{0x04, 0x00}
	}
}

// UIDString returns the UID as upper-case hex
func (c *VirtualCard) UIDString() string {
	return strings.ToUpper(hex.EncodeToString(c.UID))
}

// Levels returns the number of cascade levels the UID needs
func (c *VirtualCard) Levels() int {
	switch len(c.UID) {
	case 7:
		return 2
	case 10:
		return 3
	default:
		return 1
	}
}

// SetSectorKey replaces key A of a MIFARE Classic sector
func (c *VirtualCard) SetSectorKey(sector int, keyA []byte) {
	copy(c.Memory[trailerOfSector(sector)][0:6], keyA)
}

// SetBlock stores data directly, bypassing access control
func (c *VirtualCard) SetBlock(block int, data []byte) {
	copy(c.Memory[block], data)
}

// Block returns a copy of a block or page
func (c *VirtualCard) Block(block int) []byte {
	return append([]byte(nil), c.Memory[block]...)
}

// AuthenticatedSector returns the sector of the active session, or -1
func (c *VirtualCard) AuthenticatedSector() int {
	return c.authSector
}

func (c *VirtualCard) powerOff() {
	c.State = CardIdle
	c.level = 0
	c.authSector = -1
	c.pending = nil
	c.transferBuf = nil
}

func (c *VirtualCard) toIdle() {
	c.State = CardIdle
	c.level = 0
	c.authSector = -1
	c.pending = nil
}

// levelBytes returns UID CLn followed by its BCC for cascade level n (1-3)
func (c *VirtualCard) levelBytes(level int) []byte {
	var cl []byte
	levels := c.Levels()
	start := 3 * (level - 1)
	if level < levels {
		cl = []byte{piccCT, c.UID[start], c.UID[start+1], c.UID[start+2]}
	} else {
		cl = append(cl, c.UID[start:start+4]...)
	}
	return append(cl, cl[0]^cl[1]^cl[2]^cl[3])
}

// handle processes one frame addressed to the field and returns the
// card's answer, if any
func (c *VirtualCard) handle(f frame) (frame, bool) {
	if !c.Present {
		return frame{}, false
	}

	// short frames
	if f.bits == 7 && len(f.data) == 1 {
		switch {
		case f.data[0] == piccREQA && c.State == CardIdle,
			f.data[0] == piccWUPA && (c.State == CardIdle || c.State == CardHalt):
			c.State = CardReady
			c.level = 1
			c.authSector = -1
			c.pending = nil
			return byteFrame(c.ATQA[:]), true
		case c.State == CardReady || c.State == CardActive:
			c.toIdle()
		}
		return frame{}, false
	}

	switch c.State {
	case CardReady:
		return c.handleReady(f)
	case CardActive:
		return c.handleActive(f)
	default:
		return frame{}, false
	}
}

func selForLevel(level int) byte {
	switch level {
	case 1:
		return piccSelCL1
	case 2:
		return piccSelCL2
	default:
		return piccSelCL3
	}
}

func (c *VirtualCard) handleReady(f frame) (frame, bool) {
	if len(f.data) < 2 || f.data[0] != selForLevel(c.level) {
		c.toIdle()
		return frame{}, false
	}
	level := c.levelBytes(c.level)
	nvb := f.data[1]

	if nvb == nvbSelect {
		if f.bits != 72 || !checkCRC(f.data) {
			c.toIdle()
			return frame{}, false
		}
		if !bytes.Equal(f.data[2:7], level) {
			c.toIdle()
			return frame{}, false
		}
		sak := c.SAK
		if c.level < c.Levels() {
			sak = sakCascade
			c.level++
		} else {
			c.State = CardActive
		}
		return byteFrame(appendCRC([]byte{sak})), true
	}

	if nvb>>4 < 2 {
		return frame{}, false
	}
	known := int(nvb>>4-2)*8 + int(nvb&0x07)
	if known >= 40 || f.bits != 16+known {
		return frame{}, false
	}
	sent := bitsOf(f.data, f.bits)[16:]
	mine := bitsOf(level, 40)
	if !bytes.Equal(sent, mine[:known]) {
		// not our prefix, stay quiet until the next REQA
		return frame{}, false
	}
	rest := mine[known:]
	return frame{data: packBits(rest), bits: len(rest)}, true
}

func (c *VirtualCard) handleActive(f frame) (frame, bool) {
	if f.bits%8 != 0 {
		c.toIdle()
		return frame{}, false
	}
	if !checkCRC(f.data) {
		return frame{}, false
	}
	payload := f.data[:len(f.data)-2]
	if len(payload) == 0 {
		return frame{}, false
	}

	if c.pending != nil {
		p := c.pending
		c.pending = nil
		return c.completePending(p, payload)
	}

	switch payload[0] {
	case piccHLTA:
		if len(payload) == 2 && payload[1] == 0x00 {
			c.State = CardHalt
			c.authSector = -1
			c.pending = nil
		}
		return frame{}, false
	case piccRead:
		return c.read(payload)
	case piccWrite, piccDecr, piccIncr, piccRestore:
		return c.startTwoStep(payload)
	case piccTransfer:
		return c.transfer(payload)
	case piccULWrite:
		return c.ultralightWrite(payload)
	default:
		return nak(), true
	}
}

func (c *VirtualCard) blockIndex(payload []byte) (int, bool) {
	if len(payload) != 2 {
		return 0, false
	}
	block := int(payload[1])
	return block, block < len(c.Memory)
}

func (c *VirtualCard) canAccess(block int) bool {
	if c.Kind == KindUltralight {
		return true
	}
	return c.authSector >= 0 && sectorOf(block) == c.authSector
}

func (c *VirtualCard) read(payload []byte) (frame, bool) {
	block, ok := c.blockIndex(payload)
	if !ok || !c.canAccess(block) {
		return nak(), true
	}
	data := make([]byte, 0, 18)
	if c.Kind == KindUltralight {
		for i := range 4 {
			data = append(data, c.Memory[(block+i)%len(c.Memory)]...)
		}
	} else {
		data = append(data, c.Memory[block]...)
	}
	return byteFrame(appendCRC(data)), true
}

func (c *VirtualCard) startTwoStep(payload []byte) (frame, bool) {
	block, ok := c.blockIndex(payload)
	if !ok || c.Kind != KindMIFAREClassic || !c.canAccess(block) {
		return nak(), true
	}
	cmd := payload[0]
	if cmd == piccWrite && block == 0 {
		return nak(), true
	}
	if cmd != piccWrite && !isValueBlock(c.Memory[block]) {
		return nak(), true
	}
	c.pending = &pending{cmd: cmd, block: block}
	return ack(), true
}

func (c *VirtualCard) completePending(p *pending, payload []byte) (frame, bool) {
	if p.cmd == piccWrite {
		if len(payload) != 16 {
			return nak(), true
		}
		copy(c.Memory[p.block], payload)
		return ack(), true
	}

	// value operations do not answer the operand frame
	if len(payload) != 4 {
		return frame{}, false
	}
	value := int32(binary.LittleEndian.Uint32(c.Memory[p.block][0:4]))
	operand := int32(binary.LittleEndian.Uint32(payload))
	switch p.cmd {
	case piccIncr:
		value += operand
	case piccDecr:
		value -= operand
	}
	c.transferBuf = make([]byte, 4)
	binary.LittleEndian.PutUint32(c.transferBuf, uint32(value))
	return frame{}, false
}

func (c *VirtualCard) transfer(payload []byte) (frame, bool) {
	block, ok := c.blockIndex(payload)
	if !ok || c.transferBuf == nil || !c.canAccess(block) || block == 0 || isTrailer(block) {
		return nak(), true
	}
	v := binary.LittleEndian.Uint32(c.transferBuf)
	b := c.Memory[block]
	binary.LittleEndian.PutUint32(b[0:4], v)
	binary.LittleEndian.PutUint32(b[4:8], ^v)
	binary.LittleEndian.PutUint32(b[8:12], v)
	// a block that was not a value block yet gets its own address
	if !(b[12] == b[14] && b[13] == b[15] && b[12] == ^b[13]) {
		a := byte(block)
		b[12], b[13], b[14], b[15] = a, ^a, a, ^a
	}
	c.transferBuf = nil
	return ack(), true
}

func (c *VirtualCard) ultralightWrite(payload []byte) (frame, bool) {
	if c.Kind != KindUltralight || len(payload) != 2+ultralightPageSize {
		return nak(), true
	}
	page := int(payload[1])
	if page < 4 || page >= len(c.Memory) {
		return nak(), true
	}
	copy(c.Memory[page], payload[2:])
	return ack(), true
}

// authenticate checks a key for the sector holding block. On failure the
// card drops out of the active state.
func (c *VirtualCard) authenticate(keyType byte, block int, key []byte) bool {
	if c.State != CardActive || c.Kind != KindMIFAREClassic || block >= len(c.Memory) {
		return false
	}
	trailer := c.Memory[trailerOfSector(sectorOf(block))]
	var want []byte
	switch keyType {
	case piccAuthA:
		want = trailer[0:6]
	case piccAuthB:
		want = trailer[10:16]
	default:
		return false
	}
	if !bytes.Equal(want, key) {
		c.toIdle()
		return false
	}
	c.authSector = sectorOf(block)
	return true
}

func isValueBlock(b []byte) bool {
	v := binary.LittleEndian.Uint32(b[0:4])
	return binary.LittleEndian.Uint32(b[4:8]) == ^v &&
		binary.LittleEndian.Uint32(b[8:12]) == v &&
		b[12] == b[14] && b[13] == b[15] && b[12] == ^b[13]
}

// MIFARE Classic sector layout, see mfrc522.SectorOfBlock
func sectorOf(block int) int {
	if block < 128 {
		return block / 4
	}
	return 32 + (block-128)/16
}

func trailerOfSector(sector int) int {
	if sector < 32 {
		return sector*4 + 3
	}
	return 128 + (sector-32)*16 + 15
}

func isTrailer(block int) bool {
	return trailerOfSector(sectorOf(block)) == block
}

func ack() frame {
	return frame{data: []byte{mifareACK}, bits: 4}
}

func nak() frame {
	return frame{data: []byte{mifareNAK}, bits: 4}
}
