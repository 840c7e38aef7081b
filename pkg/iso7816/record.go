// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import (
	"fmt"
	"strings"
	"time"
)

// ByteEvent is one octet observed on the I/O line
type ByteEvent struct {
	Value byte // as sampled, before any bit convention is applied
	Start time.Duration // offset from capture start
	End   time.Duration
}

// AnomalyType classifies the problems reported in decoded records
type AnomalyType int

const (
	AnomalyNone AnomalyType = iota
	AnomalyChecksumMismatch
	AnomalyUnknownCode
	AnomalyStructuralAmbiguity
	AnomalyMalformedDefault
	AnomalyPPSAnswerMismatch
	AnomalyUndefined
)

// String returns the anomaly name
func (a AnomalyType) String() string {
	switch a {
	case AnomalyNone:
		return "none"
	case AnomalyChecksumMismatch:
		return "checksum mismatch"
	case AnomalyUnknownCode:
		return "unknown code"
	case AnomalyStructuralAmbiguity:
		return "structural ambiguity"
	case AnomalyMalformedDefault:
		return "malformed value"
	case AnomalyPPSAnswerMismatch:
		return "PPS answer mismatch"
	case AnomalyUndefined:
		return "undefined"
	default:
		return fmt.Sprintf("anomaly(%d)", int(a))
	}
}

// Record is one decoded field of the session
type Record struct {
	Title   Title
	Field   string // role of the bytes, e.g. CLA, Lc, SW1-SW2
	Value   string // human-readable decoded value
	Hex     string // Raw as hex
	Raw     []byte // octets as observed on the line
	Decoded []byte // octets after the bit convention, equal to Raw for direct cards
	Start   time.Duration
	End     time.Duration
	Anomaly AnomalyType
}

// newRecord builds a record spanning the given events
func newRecord(title Title, field, value string, events ...ByteEvent) Record {
	r := Record{Title: title, Field: field, Value: value}
	if len(events) == 0 {
		return r
	}
	r.Start = events[0].Start
	r.End = events[len(events)-1].End
	r.Decoded = make([]byte, len(events))
	for i, ev := range events {
		r.Decoded[i] = ev.Value
	}
	r.Raw = append([]byte(nil), r.Decoded...)
	r.Hex = hexString(r.Raw)
	return r
}

// inverted returns a copy of r whose Raw and Hex hold the octets an inverse
// convention card put on the line. Invert is its own inverse, so they are
// recovered from the decoded values.
func (r Record) inverted() Record {
	r.Raw = make([]byte, len(r.Decoded))
	for i, v := range r.Decoded {
		r.Raw[i] = Invert(v)
	}
	r.Hex = hexString(r.Raw)
	return r
}

// withAnomaly returns a copy of r tagged with the anomaly
func (r Record) withAnomaly(a AnomalyType) Record {
	r.Anomaly = a
	return r
}

// merge extends a held record with the record that released it. The result keeps the
// held record's start time and the releasing record's end time.
func (r Record) merge(next Record) Record {
	out := next
	out.Start = r.Start
	out.Raw = append(append([]byte{}, r.Raw...), next.Raw...)
	out.Decoded = append(append([]byte{}, r.Decoded...), next.Decoded...)
	out.Hex = hexString(out.Raw)
	return out
}

// hexString formats bytes as space separated upper case hex
func hexString(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, " ")
}

// messageBuffer holds the events of the T=0 message being stored
type messageBuffer struct {
	events []ByteEvent
}

// push appends an event whose value has already been convention-corrected
func (m *messageBuffer) push(ev ByteEvent) {
	m.events = append(m.events, ev)
}

// len returns the number of buffered bytes
func (m *messageBuffer) len() int {
	return len(m.events)
}

// clear empties the buffer, keeping capacity
func (m *messageBuffer) clear() {
	m.events = m.events[:0]
}

// step is the outcome of decoding one byte: either complete records ready to emit,
// or a pending partial record that a later byte will release.
type step struct {
	pending bool
	partial *Record
	records []Record
}

// complete returns a step emitting the given records
func complete(records ...Record) step {
	return step{records: records}
}

// pending returns a step holding output back. partial may be nil when the bytes are
// only buffered.
func pending(partial *Record) step {
	return step{pending: true, partial: partial}
}
