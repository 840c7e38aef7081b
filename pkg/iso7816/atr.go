// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import (
	"fmt"
	"strings"
)

// Role is the category of an interface byte: TA, TB, TC or TD
type Role int

// Interface byte roles, in transmission order within an iteration
const (
	RoleA Role = iota
	RoleB
	RoleC
	RoleD
)

// InterfaceByte names one expected interface byte, e.g. TB(2)
type InterfaceByte struct {
	Iteration int
	Role      Role
}

// String returns the ISO name of the interface byte
func (ib InterfaceByte) String() string {
	return fmt.Sprintf("T%c(%d)", 'A'+rune(ib.Role), ib.Iteration)
}

// ATR parser states
const (
	atrInitByte = iota
	atrFormatByte
	atrInterfaceBytes
	atrHistoricalBytes
	atrChecksum
	atrDone
)

// atrParser decodes the Answer-To-Reset one byte at a time. The chain of expected
// interface bytes grows each time a TD byte announces the next iteration.
type atrParser struct {
	state     int
	present   [MaxIterations + 1][4]bool // [iteration][role], iteration 1-based
	chain     []InterfaceByte
	next      int // index of the next expected interface byte in chain
	k         int // historical byte count
	hist      int // historical bytes received
	body      []byte
	deviation bool // Fi, Di or N differ from the defaults

	// specific mode announced by TA2
	canChangeMode  bool // reported only
	specificMode   bool
	specificProtoT int
}

// newATRParser returns a parser waiting for TS
func newATRParser() *atrParser {
	return &atrParser{state: atrInitByte}
}

// conventionKnown reports whether TS has been decoded
func (a *atrParser) conventionKnown() bool {
	return a.state > atrInitByte
}

// interfaceByteCount returns the number of interface bytes announced so far
func (a *atrParser) interfaceByteCount() int {
	return len(a.chain)
}

// historicalCount returns K from the format byte
func (a *atrParser) historicalCount() int {
	return a.k
}

// feed decodes one ATR byte. ev.Value must already be convention-corrected, except for
// TS which is read as observed. done is true once the last structurally required byte
// has been consumed.
func (a *atrParser) feed(ev ByteEvent, p *Params) (rec Record, done bool) {
	switch a.state {
	case atrInitByte:
		return a.decodeTS(ev, p), false

	case atrFormatByte:
		a.body = append(a.body, ev.Value)
		value := a.announce(ev.Value, 1, p)
		a.k = int(ev.Value & 0x0F)
		if !a.present[1][RoleD] {
			// No TD1: T=0 only
			p.addProtocol(0)
		}
		value += fmt.Sprintf("; K=%d", a.k)
		if !a.present[1][RoleD] {
			value += fmt.Sprintf("; T=%v", p.T)
		}
		rec = newRecord(TitleATR, "T0", value, ev)
		a.state = atrInterfaceBytes

	case atrInterfaceBytes:
		a.body = append(a.body, ev.Value)
		ib := a.chain[a.next]
		a.next++
		rec = a.decodeInterface(ib, ev, p)

	case atrHistoricalBytes:
		a.body = append(a.body, ev.Value)
		a.hist++
		rec = newRecord(TitleATR, fmt.Sprintf("T%d", a.hist), fmt.Sprintf("%02X", ev.Value), ev)

	case atrChecksum:
		a.body = append(a.body, ev.Value)
		if CheckXOR(a.body) {
			rec = newRecord(TitleATR, "TCK", valueTransferOK, ev)
		} else {
			rec = newRecord(TitleATR, "TCK", valueTransferError, ev).withAnomaly(AnomalyChecksumMismatch)
		}
		a.state = atrDone

	default:
		return newRecord(TitleATR, valueUndefined, valueUndefined, ev).withAnomaly(AnomalyUndefined), true
	}

	a.advance(p)
	if a.state != atrDone && len(a.body)+1 >= MaxATRLength {
		// the announced bytes do not fit in an ATR: stop here
		rec.Value += fmt.Sprintf("; ATR longer than %d bytes", MaxATRLength)
		rec = rec.withAnomaly(AnomalyMalformedDefault)
		a.state = atrDone
	}
	return rec, a.state == atrDone
}

// decodeTS determines the bit convention from the initial character
func (a *atrParser) decodeTS(ev ByteEvent, p *Params) Record {
	// bits 6..4 are all ones with the direct convention, all zeros with the inverse one
	switch (ev.Value >> 3) & 0x07 {
	case 0x07:
		p.Inverse = false
		a.state = atrFormatByte
		return newRecord(TitleATR, "TS", "direct", ev)
	case 0x00:
		p.Inverse = true
		a.state = atrFormatByte
		ev.Value = Invert(ev.Value)
		return newRecord(TitleATR, "TS", "inverted", ev)
	default:
		return newRecord(TitleATR, "TS", valueUndefined, ev).withAnomaly(AnomalyUndefined)
	}
}

// announce records which interface bytes of the given iteration follow, as flagged by
// the high nibble of T0 or TD(iteration-1), and returns their names.
func (a *atrParser) announce(format byte, iteration int, p *Params) string {
	if iteration > MaxIterations {
		return "too many interface byte groups"
	}

	var names []string
	for role := RoleA; role <= RoleD; role++ {
		if format&(0x10<<uint(role)) == 0 {
			continue
		}
		ib := InterfaceByte{Iteration: iteration, Role: role}
		a.present[iteration][role] = true
		a.chain = append(a.chain, ib)
		names = append(names, ib.String())
	}

	if iteration == 1 {
		a.applyDefaults(p)
	}
	if len(names) == 0 {
		return "no interface bytes"
	}
	return strings.Join(names, " ")
}

// applyDefaults restores the defaults of the absent first-iteration bytes
func (a *atrParser) applyDefaults(p *Params) {
	if !a.present[1][RoleA] {
		p.Fi = DefaultFi
		p.Di = DefaultDi
	}
	if !a.present[1][RoleC] {
		p.N = DefaultN
	}
}

// decodeInterface decodes an interface byte according to its role and iteration
func (a *atrParser) decodeInterface(ib InterfaceByte, ev ByteEvent, p *Params) Record {
	b := ev.Value
	name := ib.String()

	switch {
	case ib.Iteration == 1 && ib.Role == RoleA:
		fi, okFi := fiTable[b>>4]
		di, okDi := diTable[b&0x0F]
		if !okFi || !okDi {
			p.Fi, p.Di = DefaultFi, DefaultDi
			return newRecord(TitleATR, name, fmt.Sprintf("RFU Fi/Di code %02X, using defaults", b), ev).
				withAnomaly(AnomalyMalformedDefault)
		}
		p.Fi, p.Di = fi.Fi, di
		if p.Fi != DefaultFi || p.Di != DefaultDi {
			a.deviation = true
		}
		return newRecord(TitleATR, name, fmt.Sprintf("Fi: %d (fmax %g MHz), Di: %d", fi.Fi, fi.FMax, di), ev)

	case ib.Iteration == 1 && ib.Role == RoleB:
		pi1 := b & 0x1F
		ii, ok := iiTable[(b>>5)&0x03]
		if !ok {
			return newRecord(TitleATR, name, fmt.Sprintf("II: RFU, PI1: %d V", pi1), ev)
		}
		return newRecord(TitleATR, name, fmt.Sprintf("II: %d mA, PI1: %d V", ii, pi1), ev)

	case ib.Iteration == 1 && ib.Role == RoleC:
		p.N = int(b)
		if p.N != DefaultN {
			a.deviation = true
		}
		return newRecord(TitleATR, name, fmt.Sprintf("N: %d", p.N), ev)

	case ib.Role == RoleD:
		t := int(b & 0x0F)
		p.addProtocol(t)
		value := fmt.Sprintf("T+: %d, %s", t, a.announce(b, ib.Iteration+1, p))
		rec := newRecord(TitleATR, name, value, ev)
		if ib.Iteration+1 > MaxIterations && b&0xF0 != 0 {
			rec = rec.withAnomaly(AnomalyMalformedDefault)
		}
		return rec

	case ib.Iteration == 2 && ib.Role == RoleA:
		a.canChangeMode = b&0x80 == 0
		a.specificMode = true
		a.specificProtoT = int(b & 0x0F)
		implicit := b&0x10 != 0
		return newRecord(TitleATR, name, fmt.Sprintf("Specific mode T=%d; can change mode: %s; implicit parameters: %s",
			a.specificProtoT, yesNo(a.canChangeMode), yesNo(implicit)), ev)

	case ib.Iteration == 2 && ib.Role == RoleC:
		p.WI = int(b)
		return newRecord(TitleATR, name, fmt.Sprintf("WI: %d", p.WI), ev)

	default:
		return newRecord(TitleATR, name, fmt.Sprintf("%02X", b), ev)
	}
}

// advance moves to the next state once the current one has no bytes left
func (a *atrParser) advance(p *Params) {
	if a.state == atrInterfaceBytes && a.next >= len(a.chain) {
		a.state = atrHistoricalBytes
	}
	if a.state == atrHistoricalBytes && a.hist >= a.k {
		a.state = atrChecksum
	}
	if a.state == atrChecksum && !needsChecksum(p) {
		a.state = atrDone
	}
}

// needsChecksum reports whether TCK is present: only T=0 alone omits it
func needsChecksum(p *Params) bool {
	for _, t := range p.T {
		if t != 0 {
			return true
		}
	}
	return false
}

// nextContext returns the context that follows the ATR
func (a *atrParser) nextContext(p Params) Context {
	switch {
	case a.specificMode:
		// TA2 forbids negotiation
		return exchangeContext(a.specificProtoT)
	case a.deviation:
		return ContextSearchingInit
	default:
		return exchangeContext(p.Protocol())
	}
}

// protocol returns the protocol in force after the ATR
func (a *atrParser) protocol(p Params) int {
	if a.specificMode {
		return a.specificProtoT
	}
	return p.Protocol()
}

// exchangeContext returns the exchange context of a transmission protocol
func exchangeContext(protocol int) Context {
	switch protocol {
	case 0:
		return ContextStoringFrames
	case 1:
		return ContextT1Exchange
	default:
		return ContextUndefined
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
