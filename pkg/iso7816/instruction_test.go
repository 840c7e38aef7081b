// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import (
	"strings"
	"testing"
)

func TestInstructionName(t *testing.T) {
	tests := []struct {
		name     string
		cla, ins byte
		expected string
		known    bool
	}{
		{"select file", 0x00, 0xA4, "SELECT FILE", true},
		{"get response", 0x00, 0xC0, "GET RESPONSE", true},
		{"BER-TLV variant", 0x00, 0xB1, "READ BINARY (BER-TLV)", true},
		{"procedure byte range 6X", 0x00, 0x60, "Invalid Code.", false},
		{"status byte range 9X", 0x00, 0x90, "Invalid Code.", false},
		{"unknown", 0x00, 0x02, "Unknown type: 02", false},
		{"reader pseudo-APDU", 0xFF, 0xCA, "GET DATA", true},
		{"reader RFU", 0xFF, 0x00, "RFU", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, known := InstructionName(tt.cla, tt.ins)
			if got != tt.expected || known != tt.known {
				t.Errorf("InstructionName(%02X, %02X) = %q, %v; expected %q, %v",
					tt.cla, tt.ins, got, known, tt.expected, tt.known)
			}
		})
	}
}

func TestDescribeClass(t *testing.T) {
	tests := []struct {
		cla    byte
		prefix string
	}{
		{0x00, "Interindustry, No SM"},
		{0x13, "Interindustry, command chaining, No SM or no SM indication. Logical channel: 3"},
		{0x0C, "Interindustry, Command header authenticated."},
		{0x41, "Further interindustry, No SM or no SM indication. Logical channel: 5"},
		{0x20, "RFU"},
		{0x80, "Proprietary, ISO structure"},
		{0xFF, "FF: Reserved for PTS."},
	}

	for _, tt := range tests {
		if got := DescribeClass(tt.cla); !strings.HasPrefix(got, tt.prefix) {
			t.Errorf("DescribeClass(%02X) = %q, expected prefix %q", tt.cla, got, tt.prefix)
		}
	}
}

func TestDescribeStatus(t *testing.T) {
	tests := []struct {
		sw1, sw2 byte
		expected string
		known    bool
	}{
		{0x90, 0x00, "Command successfully executed.", true},
		{0x61, 0x10, "Still 16 available octets.", true},
		{0x6C, 0x20, "Wrong Le. Correct: 32.", true},
		{0x63, 0xC2, "Memory changed. Counter value 2.", true},
		{0x62, 0x10, "Triggering by the card: 16 bytes to query.", true},
		{0x6A, 0x82, "File or application not found.", true},
		{0x6A, 0x99, "Wrong parameters P1-P2. RFU.", false},
		{0x91, 0x00, "Application related status.", false},
		{0x12, 0x34, "Unknown type: 1234", false},
	}

	for _, tt := range tests {
		got, known := DescribeStatus(tt.sw1, tt.sw2)
		if got != tt.expected || known != tt.known {
			t.Errorf("DescribeStatus(%02X, %02X) = %q, %v; expected %q, %v",
				tt.sw1, tt.sw2, got, known, tt.expected, tt.known)
		}
	}
}
