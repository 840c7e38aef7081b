// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package iso7816 decodes a smart-card I/O line captured as timestamped bytes.
//
// The decoder follows the card session from the Answer-To-Reset through an optional
// PPS exchange to the command/response traffic of protocol T=0 (APDUs segmented by
// inter-byte timing) or T=1 (NAD/PCB/LEN/INF/EDC blocks). Checksums (TCK, PCK, LRC,
// CRC-16) are verified as the bytes arrive.
//
// See ISO/IEC 7816-3 (electrical interface and transmission protocols) and
// ISO/IEC 7816-4 (organization, security and commands for interchange).
package iso7816

import "time"

// Default transmission parameters (ISO/IEC 7816-3 §8.3)
const (
	DefaultFi    = 372
	DefaultDi    = 1
	DefaultN     = 0
	DefaultWI    = 10
	DefaultClock = 4.8e6 // Hz
)

// Initial characters
const (
	TSDirect  = 0x3B // direct convention, as read on the line
	TSInverse = 0x03 // inverse convention, as read with direct decoding
	PPSS      = 0xFF
)

// Limits
const (
	MaxIterations = 8 // interface byte groups tracked per ATR
	MaxATRLength  = 33  // TS included
	MaxBlockINF   = 254 // LEN 255 is RFU
	apduHeaderLen = 4
)

// frameGapFactor scales the character waiting time when deciding whether a T=0
// byte still belongs to the message being stored.
const frameGapFactor = 1.3

// Title is the category tag of a decoded record.
type Title string

// Record titles
const (
	TitleATR        Title = "ATR"
	TitleAPDU       Title = "APDU"
	TitleAPDUAnswer Title = "APDU Answer"
	TitlePPS        Title = "PPS"
	TitlePPSAnswer  Title = "PPS Answer"
	TitleT1         Title = "Exchange using T=1"
	TitleUndefined  Title = "Undefined"
)

// Decoded values shared by several parsers
const (
	valueTransferOK    = "Transfer OK"
	valueTransferError = "Error in transfer"
	valueUndefined     = "Undefined"
)

// Context is the decoding context of a session.
type Context int

// Session contexts
const (
	ContextATR Context = iota
	ContextPPS
	ContextPPSAnswer
	ContextSearchingInit
	ContextStoringFrames
	ContextT1Exchange
	ContextUndefined
)

// String returns the context name
func (c Context) String() string {
	switch c {
	case ContextATR:
		return "ATR"
	case ContextPPS:
		return "PPS"
	case ContextPPSAnswer:
		return "PPS Answer"
	case ContextSearchingInit:
		return "Searching"
	case ContextStoringFrames:
		return "Storing frames"
	case ContextT1Exchange:
		return "Exchange using T=1"
	case ContextUndefined:
		return "Undefined"
	default:
		return "UNKNOWN"
	}
}

// EDCMode selects the error detection code expected at the end of T=1 blocks.
type EDCMode int

// EDC modes
const (
	EDCNotApplicable EDCMode = iota
	EDCLRC
	EDCCRC
)

// String returns the EDC mode name
func (m EDCMode) String() string {
	switch m {
	case EDCLRC:
		return "LRC"
	case EDCCRC:
		return "CRC"
	default:
		return "Not applicable"
	}
}

// ParseEDCMode maps a configuration value (lrc, crc, na) to an EDCMode.
// Unknown values select EDCNotApplicable.
func ParseEDCMode(s string) EDCMode {
	switch s {
	case "lrc", "LRC":
		return EDCLRC
	case "crc", "CRC":
		return EDCCRC
	default:
		return EDCNotApplicable
	}
}

// fiEntry is one row of the Fi/fmax table (ISO/IEC 7816-3 Table 7)
type fiEntry struct {
	Fi   int
	FMax float64 // MHz
}

// fiTable maps the high nibble of TA1/PPS1 to Fi and fmax. Missing indexes are RFU.
var fiTable = map[byte]fiEntry{
	0x0: {372, 4},
	0x1: {372, 5},
	0x2: {558, 6},
	0x3: {744, 8},
	0x4: {1116, 12},
	0x5: {1488, 16},
	0x6: {1860, 20},
	0x9: {512, 5},
	0xA: {768, 7.5},
	0xB: {1024, 10},
	0xC: {1536, 15},
	0xD: {2048, 20},
}

// diTable maps the low nibble of TA1/PPS1 to Di. Missing indexes are RFU.
var diTable = map[byte]int{
	0x1: 1,
	0x2: 2,
	0x3: 4,
	0x4: 8,
	0x5: 16,
	0x6: 32,
	0x7: 64,
	0x8: 12,
	0x9: 20,
}

// iiTable maps TB1 bits 7..6 to the maximum programming current in mA.
var iiTable = map[byte]int{
	0x0: 25,
	0x1: 50,
}

// seconds converts a floating point number of seconds to a Duration
func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
