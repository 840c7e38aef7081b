// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import (
	"strings"
	"testing"
)

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()

	var l line
	l.send(0x3B, 0x00)
	l.pause(msgGap)
	l.send(0x00, 0xA4, 0x04, 0x00)
	l.pause(msgGap)
	l.send(0x6A, 0x82)
	l.pause(msgGap)
	l.send(0x00, 0x66, 0x00, 0x00)

	for _, r := range decodeAll(NewSession(Config{}), l.events) {
		s.Update(r)
	}

	if s.ATRs != 1 || s.Commands != 2 {
		t.Errorf("ATRs=%d Commands=%d, expected 1 and 2", s.ATRs, s.Commands)
	}
	if s.StatusWordsByCode["6A 82"] != 1 {
		t.Errorf("status words = %v", s.StatusWordsByCode)
	}
	// INS 66 is invalid
	if s.UnknownCodes != 1 || s.Errors() != 1 {
		t.Errorf("UnknownCodes=%d Errors=%d", s.UnknownCodes, s.Errors())
	}
	if s.RecordsByTitle[TitleAPDU] != 8 {
		t.Errorf("APDU records = %d, expected 8", s.RecordsByTitle[TitleAPDU])
	}

	out := s.String()
	if !strings.Contains(out, "Unknown Codes:") || !strings.Contains(out, "6A 82") {
		t.Errorf("summary missing counters:\n%s", out)
	}

	s.Reset()
	if s.TotalRecords != 0 || len(s.RecordsByTitle) != 0 {
		t.Error("Reset should clear the counters")
	}
}

func TestValidateRecord(t *testing.T) {
	clean := newRecord(TitleAPDU, "CLA", "x", ByteEvent{Value: 0x00})
	if errs := ValidateRecord(clean); len(errs) != 0 {
		t.Errorf("clean record produced %d errors", len(errs))
	}

	tests := []struct {
		anomaly AnomalyType
		contain string
	}{
		{AnomalyChecksumMismatch, "checksum mismatch"},
		{AnomalyUnknownCode, "unknown code"},
		{AnomalyStructuralAmbiguity, "fit no APDU case"},
		{AnomalyPPSAnswerMismatch, "does not confirm"},
		{AnomalyUndefined, "undefined"},
	}
	for _, tt := range tests {
		errs := ValidateRecord(clean.withAnomaly(tt.anomaly))
		if len(errs) != 1 {
			t.Fatalf("%s: got %d errors", tt.anomaly, len(errs))
		}
		if errs[0].Type != tt.anomaly || !strings.Contains(errs[0].Error(), tt.contain) {
			t.Errorf("%s: %q", tt.anomaly, errs[0].Error())
		}
	}
}

func TestFormatRecord(t *testing.T) {
	r := newRecord(TitleAPDUAnswer, "SW1-SW2", "Command successfully executed.",
		ByteEvent{Value: 0x90}, ByteEvent{Value: 0x00})
	out := FormatRecord(r)
	if !strings.Contains(out, "90 00") || !strings.Contains(out, "SW1-SW2") {
		t.Errorf("FormatRecord = %q", out)
	}
	if strings.Contains(out, "<") {
		t.Errorf("clean record should carry no anomaly marker: %q", out)
	}
	if out := FormatRecord(r.withAnomaly(AnomalyUnknownCode)); !strings.Contains(out, "<unknown code>") {
		t.Errorf("FormatRecord = %q", out)
	}
}
