// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import "fmt"

// Static status words (ISO/IEC 7816-4 §5.6 plus common proprietary values)
var statusWords = map[uint16]string{
	0x9000: "Command successfully executed.",

	0x6200: "Memory unchanged. No information given.",
	0x6281: "Memory unchanged. Part of returned data may be corrupted.",
	0x6282: "Memory unchanged. End of file/record reached before reading Le bytes.",
	0x6283: "Memory unchanged. Selected file invalidated.",
	0x6284: "Memory unchanged. FCI not formatted according to ISO.",
	0x6285: "Memory unchanged. Selected file in termination state.",
	0x6286: "Memory unchanged. No input data available from a sensor on the card.",

	0x6300: "Memory changed. No information given.",
	0x6381: "Memory changed. File filled up by the last write.",

	0x6400: "Memory unchanged. Execution error.",
	0x6401: "Memory unchanged. Immediate response required by the card.",

	0x6500: "Memory changed. No information given.",
	0x6581: "Memory changed. Memory failure.",

	0x6600: "Security-related issue.",

	0x6700: "Wrong length.",

	0x6800: "CLA not supported. No information given.",
	0x6881: "Logical channel not supported.",
	0x6882: "Secure messaging not supported.",
	0x6883: "Last command of the chain expected.",
	0x6884: "Command chaining not supported.",

	0x6900: "Command not allowed. No information given.",
	0x6981: "Command incompatible with file structure.",
	0x6982: "Security status not satisfied.",
	0x6983: "Authentication method blocked.",
	0x6984: "Reference data not usable.",
	0x6985: "Conditions of use not satisfied.",
	0x6986: "Command not allowed (no current EF).",
	0x6987: "Expected secure messaging data objects missing.",
	0x6988: "Incorrect secure messaging data objects.",

	0x6A00: "Wrong parameters P1-P2. No information given.",
	0x6A80: "Incorrect parameters in the data field.",
	0x6A81: "Function not supported.",
	0x6A82: "File or application not found.",
	0x6A83: "Record not found.",
	0x6A84: "Not enough memory space in the file.",
	0x6A85: "Nc inconsistent with TLV structure.",
	0x6A86: "Incorrect parameters P1-P2.",
	0x6A87: "Nc inconsistent with parameters P1-P2.",
	0x6A88: "Referenced data or reference data not found.",
	0x6A89: "File already exists.",
	0x6A8A: "DF name already exists.",

	0x6B00: "Wrong parameters P1-P2.",
	0x6D00: "Instruction code not supported or invalid.",
	0x6E00: "Class not supported.",
	0x6F00: "No precise diagnosis.",
	0x6FFF: "Card dead.",

	0x9500: "Bad sequence.",
	0x9680: "Slave not found.",
}

// DescribeStatus returns a description of the status word SW1-SW2. The boolean is
// false when the status word is not known.
func DescribeStatus(sw1, sw2 byte) (string, bool) {
	sw := uint16(sw1)<<8 | uint16(sw2)

	switch {
	case sw1 == 0x61:
		return fmt.Sprintf("Still %d available octets.", sw2), true
	case sw1 == 0x6C:
		return fmt.Sprintf("Wrong Le. Correct: %d.", sw2), true
	case sw1 == 0x63 && sw2&0xF0 == 0xC0:
		return fmt.Sprintf("Memory changed. Counter value %d.", sw2&0x0F), true
	case (sw1 == 0x62 || sw1 == 0x64) && sw2 >= 0x02 && sw2 <= 0x80:
		return fmt.Sprintf("Triggering by the card: %d bytes to query.", sw2), true
	}

	if desc, ok := statusWords[sw]; ok {
		return desc, true
	}

	switch sw1 {
	case 0x62, 0x64:
		return "Memory unchanged. RFU.", false
	case 0x63, 0x65:
		return "Memory changed. RFU.", false
	case 0x67:
		return "Wrong length.", true
	case 0x68:
		return "CLA not supported. RFU.", false
	case 0x69:
		return "Command not allowed. RFU.", false
	case 0x6A:
		return "Wrong parameters P1-P2. RFU.", false
	case 0x6B:
		return "Reference incorrect.", true
	case 0x6D:
		return "INS not programmed or valid.", true
	case 0x6E:
		return "CLA incorrect.", true
	case 0x6F:
		return "No precise diagnosis.", true
	}

	if sw1&0xF0 == 0x90 {
		return "Application related status.", false
	}
	return fmt.Sprintf("Unknown type: %04X", sw), false
}
