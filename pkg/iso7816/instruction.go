// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import "fmt"

// Instruction names for the interindustry class (ISO/IEC 7816-4 Table 4).
// Odd INS values select the BER-TLV variant of the even instruction.
var instructionNames = map[byte]string{
	0x04: "DEACTIVATE FILE",
	0x0C: "ERASE RECORD(S)",
	0x0E: "ERASE BINARY",
	0x10: "PERFORM SCQL OPERATION",
	0x12: "PERFORM TRANSACTION OPERATION",
	0x14: "PERFORM USER OPERATION",
	0x20: "VERIFY",
	0x22: "MANAGE SECURITY ENVIRONMENT",
	0x24: "CHANGE REFERENCE DATA",
	0x26: "DISABLE VERIFICATION REQUIREMENT",
	0x28: "ENABLE VERIFICATION REQUIREMENT",
	0x2A: "PERFORM SECURITY OPERATION",
	0x2C: "RESET RETRY COUNTER",
	0x44: "ACTIVATE FILE",
	0x46: "GENERATE ASYMMETRIC KEY PAIR",
	0x70: "MANAGE CHANNEL",
	0x82: "EXTERNAL AUTHENTICATE",
	0x84: "GET CHALLENGE",
	0x86: "GENERAL AUTHENTICATE",
	0x88: "INTERNAL AUTHENTICATE",
	0xA0: "SEARCH BINARY",
	0xA2: "SEARCH RECORD",
	0xA4: "SELECT FILE",
	0xB0: "READ BINARY",
	0xB2: "READ RECORD(S)",
	0xC0: "GET RESPONSE",
	0xC2: "ENVELOPE",
	0xCA: "GET DATA",
	0xD0: "WRITE BINARY",
	0xD2: "WRITE RECORD",
	0xD6: "UPDATE BINARY",
	0xDA: "PUT DATA",
	0xDC: "UPDATE RECORD",
	0xE0: "CREATE FILE",
	0xE2: "APPEND RECORD",
	0xE4: "DELETE FILE",
	0xE6: "TERMINATE DF",
	0xE8: "TERMINATE EF",
	0xFE: "TERMINATE CARD USAGE",
}

// Pseudo-APDU instructions used with CLA FF by PC/SC readers
var readerInstructionNames = map[byte]string{
	0x82: "LOAD KEY",
	0x86: "GENERAL AUTHENTICATE",
	0xB0: "READ BINARY",
	0xB4: "GET CHALLENGE",
	0xCA: "GET DATA",
	0xD6: "UPDATE BINARY",
	0xF0: "CONTROL",
	0xF3: "MIFARE CLASSIC READ",
	0xF4: "MIFARE CLASSIC WRITE",
	0xF5: "MIFARE CLASSIC VALUE",
	0xF6: "RFID",
	0xF7: "HCE",
	0xF9: "SE",
	0xFB: "CT CONTROL",
	0xFD: "ECHO",
	0xFE: "ENCAPSULATE",
}

// InstructionName returns the name of ins under class cla. The boolean is false for
// invalid (6X, 9X) and unknown codes, in which case the string is a best-effort label.
func InstructionName(cla, ins byte) (string, bool) {
	if cla == 0xFF {
		if name, ok := readerInstructionNames[ins]; ok {
			return name, true
		}
		return "RFU", false
	}

	// 6X and 9X collide with procedure bytes and status words
	if high := ins & 0xF0; high == 0x60 || high == 0x90 {
		return "Invalid Code.", false
	}

	if name, ok := instructionNames[ins]; ok {
		return name, true
	}
	if ins&0x01 == 1 {
		if name, ok := instructionNames[ins&^0x01]; ok {
			return name + " (BER-TLV)", true
		}
	}
	return fmt.Sprintf("Unknown type: %02X", ins), false
}

// DescribeClass decodes the CLA byte (ISO/IEC 7816-4 §5.4.1)
func DescribeClass(cla byte) string {
	switch {
	case cla == 0xFF:
		return "FF: Reserved for PTS."
	case cla&0xE0 == 0x00:
		// First interindustry class: 000x SSCC
		return fmt.Sprintf("Interindustry, %s%s Logical channel: %d",
			chainingText(cla), secureMessagingText((cla>>2)&0x03), cla&0x03)
	case cla&0xC0 == 0x40:
		// Further interindustry class: 01Sx CCCC
		sm := "No SM or no SM indication."
		if cla&0x20 != 0 {
			sm = "Command header not authenticated."
		}
		return fmt.Sprintf("Further interindustry, %s%s Logical channel: %d",
			chainingText(cla), sm, int(cla&0x0F)+4)
	case cla&0xE0 == 0x20:
		return fmt.Sprintf("RFU: %02X", cla)
	case cla >= 0x80 && cla <= 0x9F, cla&0xF0 == 0xA0:
		return fmt.Sprintf("Proprietary, ISO structure, %s Logical channel: %d",
			secureMessagingText((cla>>2)&0x03), cla&0x03)
	case cla >= 0xB0 && cla <= 0xCF:
		return fmt.Sprintf("Structure of command and response: %02X", cla)
	default:
		return fmt.Sprintf("Proprietary structure and coding of command and response: %02X", cla)
	}
}

// chainingText describes bit 5 of an interindustry CLA
func chainingText(cla byte) string {
	if cla&0x10 != 0 {
		return "command chaining, "
	}
	return ""
}

// secureMessagingText describes the two secure messaging bits of a first interindustry CLA
func secureMessagingText(sm byte) string {
	switch sm {
	case 0:
		return "No SM or no SM indication."
	case 1:
		return "Proprietary SM format."
	case 2:
		return "Command header not authenticated."
	default:
		return "Command header authenticated."
	}
}
