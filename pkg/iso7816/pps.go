// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import (
	"fmt"
	"strings"
)

// PPS0 flags announcing PPS1, PPS2 and PPS3
var ppsFlags = [4]byte{1: 0x10, 2: 0x20, 3: 0x40}

// ppsNegotiator tracks one PPS request and the answer confirming it
type ppsNegotiator struct {
	request  []byte
	answer   []byte
	present  [4]bool // PPS1..PPS3 flagged by the request
	echoed   [4]bool // PPS1..PPS3 flagged by the answer
	protocol int
	fi, di   int // candidates from PPS1
	failed   bool
}

// newPPSNegotiator returns a negotiator with default candidates
func newPPSNegotiator() *ppsNegotiator {
	return &ppsNegotiator{fi: DefaultFi, di: DefaultDi}
}

// requestLength returns the expected request length, 0 while PPS0 is unknown
func (n *ppsNegotiator) requestLength() int {
	return ppsLength(n.request, n.present)
}

// answerLength returns the expected answer length, 0 while PPS0 is unknown
func (n *ppsNegotiator) answerLength() int {
	return ppsLength(n.answer, n.echoed)
}

func ppsLength(unit []byte, flags [4]bool) int {
	if len(unit) < 2 {
		return 0
	}
	length := 3 // PPSS, PPS0, PCK
	for i := 1; i <= 3; i++ {
		if flags[i] {
			length++
		}
	}
	return length
}

// ppsRole returns the name of byte idx of a unit whose PPS0 flags are known
func ppsRole(idx, length int, flags [4]bool) (string, int) {
	switch {
	case idx == 0:
		return "PPSS", 0
	case idx == 1:
		return "PPS0", 0
	case idx == length-1:
		return "PCK", 0
	}
	pos := 1
	for i := 1; i <= 3; i++ {
		if !flags[i] {
			continue
		}
		pos++
		if pos == idx {
			return fmt.Sprintf("PPS%d", i), i
		}
	}
	return valueUndefined, 0
}

// decodeFlags returns the PPS1..PPS3 presence flags of a PPS0 byte
func decodeFlags(pps0 byte) [4]bool {
	var flags [4]bool
	for i := 1; i <= 3; i++ {
		flags[i] = pps0&ppsFlags[i] != 0
	}
	return flags
}

// feedRequest decodes one byte of the PPS request sent by the interface device
func (n *ppsNegotiator) feedRequest(ev ByteEvent) (rec Record, done bool) {
	n.request = append(n.request, ev.Value)
	idx := len(n.request) - 1

	switch idx {
	case 0:
		if ev.Value != PPSS {
			return newRecord(TitlePPS, "PPSS", fmt.Sprintf("Unexpected %02X", ev.Value), ev).
				withAnomaly(AnomalyMalformedDefault), false
		}
		return newRecord(TitlePPS, "PPSS", "Initial byte", ev), false

	case 1:
		n.present = decodeFlags(ev.Value)
		n.protocol = int(ev.Value & 0x0F)
		var names []string
		for i := 1; i <= 3; i++ {
			if n.present[i] {
				names = append(names, fmt.Sprintf("PPS%d", i))
			}
		}
		value := fmt.Sprintf("T=%d", n.protocol)
		if len(names) > 0 {
			value = strings.Join(names, " ") + "; " + value
		}
		return newRecord(TitlePPS, "PPS0", value, ev), false
	}

	length := n.requestLength()
	field, role := ppsRole(idx, length, n.present)
	switch {
	case field == "PCK":
		rec = newRecord(TitlePPS, field, valueTransferOK, ev)
		if XORChecksum(n.request) != 0 {
			rec = newRecord(TitlePPS, field, valueTransferError, ev).withAnomaly(AnomalyChecksumMismatch)
		}
		return rec, true

	case role == 1:
		fi, okFi := fiTable[ev.Value>>4]
		di, okDi := diTable[ev.Value&0x0F]
		if !okFi || !okDi {
			n.fi, n.di = DefaultFi, DefaultDi
			return newRecord(TitlePPS, field, fmt.Sprintf("RFU Fi/Di code %02X", ev.Value), ev).
				withAnomaly(AnomalyMalformedDefault), false
		}
		n.fi, n.di = fi.Fi, di
		return newRecord(TitlePPS, field, fmt.Sprintf("Fi: %d, Di: %d", n.fi, n.di), ev), false

	default:
		return newRecord(TitlePPS, field, fmt.Sprintf("RFU: %02X", ev.Value), ev), false
	}
}

// requestByte returns the request byte with the given role
func (n *ppsNegotiator) requestByte(role int) (byte, bool) {
	if !n.present[role] {
		return 0, false
	}
	pos := 1
	for i := 1; i <= role; i++ {
		if n.present[i] {
			pos++
		}
	}
	if pos >= len(n.request) {
		return 0, false
	}
	return n.request[pos], true
}

// feedAnswer verifies one byte of the card's PPS answer against the request. Once a
// byte disagrees, every later answer byte is reported as failed.
func (n *ppsNegotiator) feedAnswer(ev ByteEvent) (rec Record, done bool) {
	n.answer = append(n.answer, ev.Value)
	idx := len(n.answer) - 1

	var field string
	ok := true
	switch idx {
	case 0:
		field = "PPSS"
		ok = ev.Value == PPSS
	case 1:
		field = "PPS0"
		n.echoed = decodeFlags(ev.Value)
		ok = int(ev.Value&0x0F) == n.protocol
		for i := 1; i <= 3; i++ {
			// the card may drop a proposal but never add one
			if n.echoed[i] && !n.present[i] {
				ok = false
			}
		}
	default:
		var role int
		field, role = ppsRole(idx, n.answerLength(), n.echoed)
		switch {
		case field == "PCK":
			ok = XORChecksum(n.answer) == 0
			done = true
		case role > 0:
			want, found := n.requestByte(role)
			ok = found && want == ev.Value
		}
	}

	if !ok {
		n.failed = true
	}
	rec = newRecord(TitlePPSAnswer, field, fmt.Sprintf("Answer ok = %t", !n.failed), ev)
	if n.failed {
		rec = rec.withAnomaly(AnomalyPPSAnswerMismatch)
	}
	return rec, done
}

// accepted reports whether the answer confirmed the PPS1 proposal
func (n *ppsNegotiator) accepted() bool {
	return !n.failed && n.echoed[1]
}

// commit applies the outcome of the exchange: the proposed Fi/Di when the card echoed
// PPS1, the defaults otherwise.
func (n *ppsNegotiator) commit(p *Params) {
	if n.accepted() {
		p.Fi, p.Di = n.fi, n.di
	} else {
		p.Fi, p.Di = DefaultFi, DefaultDi
	}
	p.addProtocol(n.protocol)
}
