// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// ============================================================
// Test Helpers
// ============================================================

// Line timing at the default 9600 baud (one etu is 77.5 µs)
const (
	byteTime = 800 * time.Microsecond // ten etu per character
	charGap  = 150 * time.Microsecond // well within the cutting threshold
	msgGap   = 20 * time.Millisecond  // well beyond the frame gap
)

// line builds a timestamped byte stream
type line struct {
	t      time.Duration
	events []ByteEvent
}

// send appends characters separated by the regular character gap
func (l *line) send(values ...byte) {
	for _, v := range values {
		l.events = append(l.events, ByteEvent{Value: v, Start: l.t, End: l.t + byteTime})
		l.t += byteTime + charGap
	}
}

// pause delays the next character
func (l *line) pause(d time.Duration) {
	l.t += d
}

// summarize reduces records to "Title|Field|Value" for comparison
func summarize(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, string(r.Title)+"|"+r.Field+"|"+r.Value)
	}
	return out
}

// decodeAll feeds every event and flushes the session
func decodeAll(s *Session, events []ByteEvent) []Record {
	var recs []Record
	for _, ev := range events {
		recs = append(recs, s.Feed(ev)...)
	}
	return append(recs, s.Flush()...)
}

// ============================================================
// End-to-End Scenarios
// ============================================================

func TestSession_MinimalATR(t *testing.T) {
	s := NewSession(Config{})
	var l line
	l.send(0x3B, 0x00)

	recs := decodeAll(s, l.events)
	want := []string{
		"ATR|TS|direct",
		"ATR|T0|no interface bytes; K=0; T=[0]",
	}
	if diff := cmp.Diff(want, summarize(recs)); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if s.Context() != ContextStoringFrames {
		t.Errorf("context = %s, expected Storing frames", s.Context())
	}
}

func TestSession_SelectFileCase1(t *testing.T) {
	s := NewSession(Config{})
	var l line
	l.send(0x3B, 0x00)
	l.pause(msgGap)
	l.send(0x00, 0xA4, 0x04, 0x00)

	recs := decodeAll(s, l.events)
	got := summarize(recs[2:])
	want := []string{
		"APDU|CLA|Interindustry, No SM or no SM indication. Logical channel: 0",
		"APDU|INS|SELECT FILE",
		"APDU|P1|04",
		"APDU|P2|00",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_CommandThenAnswer(t *testing.T) {
	s := NewSession(Config{})
	var l line
	l.send(0x3B, 0x00)
	l.pause(msgGap)
	l.send(0x00, 0xA4, 0x04, 0x00, 0x02, 0x3F, 0x00)
	l.pause(msgGap)
	l.send(0x90, 0x00)
	l.pause(msgGap)
	l.send(0x00, 0xC0, 0x00, 0x00, 0x02)
	l.pause(500 * time.Microsecond)
	l.send(0x12, 0x34, 0x90, 0x00)

	recs := decodeAll(s, l.events)
	got := summarize(recs[2:])
	want := []string{
		"APDU|CLA|Interindustry, No SM or no SM indication. Logical channel: 0",
		"APDU|INS|SELECT FILE",
		"APDU|P1|04",
		"APDU|P2|00",
		"APDU|Lc|2",
		"APDU|DATA|3F",
		"APDU|DATA|00",
		"APDU Answer|SW1-SW2|Command successfully executed.",
		// Lc=2 fits the bytes before SW1-SW2 first
		"APDU|CLA|Interindustry, No SM or no SM indication. Logical channel: 0",
		"APDU|INS|GET RESPONSE",
		"APDU|P1|00",
		"APDU|P2|00",
		"APDU|Lc|2",
		"APDU|DATA|12",
		"APDU|DATA|34",
		"APDU Answer|SW1-SW2|Command successfully executed.",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_T1BlockLRC(t *testing.T) {
	tests := []struct {
		name    string
		edc     byte
		value   string
		anomaly AnomalyType
	}{
		{"valid LRC", 0x64, valueTransferOK, AnomalyNone},
		{"corrupted LRC", 0x65, valueTransferError, AnomalyChecksumMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(Config{EDC: EDCLRC})
			var l line
			l.send(withTCK(0x3B, 0x80, 0x01)...)
			if s.Context() != ContextATR {
				t.Fatal("session should start in the ATR context")
			}
			l.pause(msgGap)
			l.send(0x00, 0x00, 0x02, 0xAB, 0xCD, tt.edc)

			recs := decodeAll(s, l.events)
			if s.Context() != ContextT1Exchange {
				t.Fatalf("context = %s", s.Context())
			}
			edc := recs[len(recs)-1]
			if edc.Field != "EDC : LRC" || edc.Value != tt.value || edc.Anomaly != tt.anomaly {
				t.Errorf("EDC = %s %q (%s)", edc.Field, edc.Value, edc.Anomaly)
			}
		})
	}
}

func TestSession_T1BlockCRCMerged(t *testing.T) {
	s := NewSession(Config{EDC: EDCCRC})
	var l line
	l.send(withTCK(0x3B, 0x80, 0x01)...)
	l.pause(msgGap)
	l.send(AppendCRC([]byte{0x00, 0x40, 0x01, 0x99})...)

	var recs []Record
	for i, ev := range l.events {
		out := s.Feed(ev)
		if i == len(l.events)-2 && len(out) != 0 {
			t.Fatalf("first CRC byte released %d records", len(out))
		}
		recs = append(recs, out...)
	}

	edc := recs[len(recs)-1]
	first := l.events[len(l.events)-2]
	last := l.events[len(l.events)-1]
	if edc.Value != valueTransferOK || len(edc.Raw) != 2 {
		t.Errorf("EDC = %q raw % X", edc.Value, edc.Raw)
	}
	if edc.Start != first.Start || edc.End != last.End {
		t.Errorf("EDC spans %v..%v, expected %v..%v", edc.Start, edc.End, first.Start, last.End)
	}
	if held := s.Flush(); len(held) != 0 {
		t.Errorf("nothing should be held, got %d records", len(held))
	}
}

func TestSession_InverseConvention(t *testing.T) {
	s := NewSession(Config{})
	var l line
	// 3F 00 transmitted with the inverse convention, 03 FF on the line
	l.send(TSInverse, Invert(0x00))

	recs := decodeAll(s, l.events)
	if !s.Params().Inverse {
		t.Fatal("inverse convention not detected")
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, expected TS and T0", len(recs))
	}
	if recs[0].Hex != "03" || recs[0].Decoded[0] != 0x3F {
		t.Errorf("TS record = %q decoded % X", recs[0].Hex, recs[0].Decoded)
	}
	if recs[1].Field != "T0" || recs[1].Hex != "FF" || recs[1].Raw[0] != 0xFF || recs[1].Decoded[0] != 0x00 {
		t.Errorf("T0 record = %s %q decoded % X", recs[1].Field, recs[1].Hex, recs[1].Decoded)
	}
	if s.Context() != ContextStoringFrames {
		t.Errorf("context = %s", s.Context())
	}
}

// ============================================================
// PPS Scenarios
// ============================================================

func TestSession_PPSAccepted(t *testing.T) {
	s := NewSession(Config{})
	var l line
	l.send(0x3B, 0x10, 0x96)
	l.pause(msgGap)
	l.send(0xFF, 0x10, 0x96, 0x79)
	l.pause(msgGap)
	l.send(0xFF, 0x10, 0x96, 0x79)

	recs := decodeAll(s, l.events)
	if s.Context() != ContextStoringFrames {
		t.Fatalf("context = %s", s.Context())
	}
	p := s.Params()
	if p.Fi != 512 || p.Di != 32 {
		t.Errorf("Fi/Di = %d/%d, expected 512/32", p.Fi, p.Di)
	}

	var titles []Title
	for _, r := range recs {
		titles = append(titles, r.Title)
	}
	want := []Title{TitleATR, TitleATR, TitleATR, TitlePPS, TitlePPS, TitlePPS, TitlePPS,
		TitlePPSAnswer, TitlePPSAnswer, TitlePPSAnswer, TitlePPSAnswer}
	if diff := cmp.Diff(want, titles); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_NoPPSHandsOverToExchange(t *testing.T) {
	s := NewSession(Config{})
	var l line
	l.send(0x3B, 0x10, 0x96)
	if recs := decodeAll(s, l.events); len(recs) != 3 {
		t.Fatalf("ATR produced %d records", len(recs))
	}
	if s.Context() != ContextSearchingInit {
		t.Fatalf("context = %s, expected Searching", s.Context())
	}

	// 00 is not PPSS: T=0 traffic at the announced rate
	s.Feed(ByteEvent{Value: 0x00, Start: 10 * time.Millisecond, End: 10*time.Millisecond + 40*time.Microsecond})
	if s.Context() != ContextStoringFrames {
		t.Errorf("context = %s, expected Storing frames", s.Context())
	}
}

// ============================================================
// Resynchronization and Flush
// ============================================================

func TestSession_AmbiguousMessageResynchronizes(t *testing.T) {
	var trace bytes.Buffer
	s := NewSession(Config{Logger: log.New(&trace, "", 0)})
	var l line
	l.send(0x3B, 0x00)
	l.pause(msgGap)
	l.send(0x00, 0xA4)
	l.pause(msgGap)
	l.send(0x00, 0xB0, 0x00, 0x00, 0x10)

	recs := decodeAll(s, l.events)
	got := summarize(recs[2:])
	want := []string{
		"Undefined|Undefined|Undefined",
		"APDU|CLA|Interindustry, No SM or no SM indication. Logical channel: 0",
		"APDU|INS|READ BINARY",
		"APDU|P1|00",
		"APDU|P2|00",
		"APDU|Le|16",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if recs[2].Anomaly != AnomalyStructuralAmbiguity {
		t.Errorf("anomaly = %s", recs[2].Anomaly)
	}
	if !strings.Contains(trace.String(), "resynchronizing") {
		t.Errorf("trace missing resynchronization:\n%s", trace.String())
	}
}

func TestSession_FlushReportsLastMessage(t *testing.T) {
	s := NewSession(Config{})
	var l line
	l.send(0x3B, 0x00)
	l.pause(msgGap)
	l.send(0x00, 0xA4, 0x04, 0x00)

	var recs []Record
	for _, ev := range l.events {
		recs = append(recs, s.Feed(ev)...)
	}
	if len(recs) != 2 {
		t.Fatalf("only the ATR should be reported before Flush, got %d records", len(recs))
	}
	if flushed := s.Flush(); len(flushed) != 4 {
		t.Errorf("Flush returned %d records, expected 4", len(flushed))
	}
	if again := s.Flush(); len(again) != 0 {
		t.Errorf("second Flush returned %d records", len(again))
	}
}

func TestSession_FlushIncompleteCRC(t *testing.T) {
	s := NewSession(Config{EDC: EDCCRC})
	var l line
	l.send(withTCK(0x3B, 0x80, 0x01)...)
	l.send(0x00, 0x00, 0x00, 0x12)

	recs := decodeAll(s, l.events)
	last := recs[len(recs)-1]
	if last.Value != "Incomplete" || last.Anomaly != AnomalyUndefined || last.Hex != "12" {
		t.Errorf("flushed record = %q %q (%s)", last.Hex, last.Value, last.Anomaly)
	}
}

func TestSession_Reset(t *testing.T) {
	s := NewSession(Config{Clock: 3.57e6})
	var l line
	l.send(0x03, 0xFF)
	decodeAll(s, l.events)

	s.Reset()
	p := s.Params()
	if s.Context() != ContextATR || p.Inverse || p.Clock != 3.57e6 {
		t.Errorf("after Reset: context=%s inverse=%v clock=%g", s.Context(), p.Inverse, p.Clock)
	}
}
