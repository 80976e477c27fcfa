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
	"errors"
	"fmt"
	"strings"
	"time"
)

// TraceDirection tells whether bus bytes went to or came from the chip
type TraceDirection string

const (
	// TraceTX marks bytes clocked out to the MFRC522
	TraceTX TraceDirection = "TX"
	// TraceRX marks bytes clocked in from the MFRC522
	TraceRX TraceDirection = "RX"
)

// traceHexLimit caps how many bytes of one entry are printed
const traceHexLimit = 32

// TraceEntry is one bus transfer
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

func (e TraceEntry) String() string {
	line := fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, formatHexBytes(e.Data))
	if e.Note == "" {
		return line
	}
	return line + " (" + e.Note + ")"
}

// TraceableError carries the last bus transfers that led to a transport
// failure. Use GetTrace or errors.As to reach it through wrapping:
//
//	if te := mfrc522.GetTrace(err); te != nil {
//	    log.Print(te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace renders the trace one transfer per line, ">" for TX and
// "<" for RX
func (e *TraceableError) FormatTrace() string {
	header := fmt.Sprintf("[%s:%s]", e.Transport, e.Port)
	if len(e.Trace) == 0 {
		return header + " (no trace data)"
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s Wire trace (%d entries):\n", header, len(e.Trace))
	for _, entry := range e.Trace {
		arrow := ">"
		if entry.Direction == TraceRX {
			arrow = "<"
		}
		_, _ = fmt.Fprintf(&sb, "  %s %s", arrow, formatHexBytes(entry.Data))
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, " (%s)", entry.Note)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func formatHexBytes(data []byte) string {
	switch {
	case len(data) == 0:
		return "(empty)"
	case len(data) > traceHexLimit:
		return fmt.Sprintf("% X ... (%d bytes total)", data[:traceHexLimit], len(data))
	default:
		return fmt.Sprintf("% X", data)
	}
}

// TraceBuffer remembers the most recent bus transfers of one transport so
// a failure can be reported together with the traffic before it. It is
// not synchronized; transports record under their own bus lock.
type TraceBuffer struct {
	transport string
	port      string
	ring      []TraceEntry
	next      int // slot the next entry goes to once the ring is full
}

// NewTraceBuffer creates a buffer keeping the last size transfers, 16 when
// size is not positive
func NewTraceBuffer(transport, port string, size int) *TraceBuffer {
	if size <= 0 {
		size = 16
	}
	return &TraceBuffer{transport: transport, port: port, ring: make([]TraceEntry, 0, size)}
}

// RecordTX records bytes sent to the chip
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.add(TraceTX, data, note)
}

// RecordRX records bytes received from the chip
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.add(TraceRX, data, note)
}

// RecordTimeout records a transfer that never completed
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.add(TraceRX, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) add(dir TraceDirection, data []byte, note string) {
	entry := TraceEntry{
		Timestamp: time.Now(),
		Direction: dir,
		Note:      note,
		Data:      append([]byte(nil), data...),
	}
	if len(tb.ring) < cap(tb.ring) {
		tb.ring = append(tb.ring, entry)
		return
	}
	tb.ring[tb.next] = entry
	tb.next = (tb.next + 1) % len(tb.ring)
}

// entries returns the ring oldest first
func (tb *TraceBuffer) entries() []TraceEntry {
	out := make([]TraceEntry, 0, len(tb.ring))
	out = append(out, tb.ring[tb.next:]...)
	return append(out, tb.ring[:tb.next]...)
}

// WrapError attaches a snapshot of the buffer to err. nil stays nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{Err: err, Transport: tb.transport, Port: tb.port, Trace: tb.entries()}
}

// Clear drops all entries
func (tb *TraceBuffer) Clear() {
	tb.ring = tb.ring[:0]
	tb.next = 0
}

// Len returns the number of entries held
func (tb *TraceBuffer) Len() int {
	return len(tb.ring)
}

// HasTrace reports whether err carries a wire trace
func HasTrace(err error) bool {
	return GetTrace(err) != nil
}

// GetTrace returns the TraceableError inside err, or nil
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
