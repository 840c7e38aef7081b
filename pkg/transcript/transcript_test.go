// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/cardwatch/pkg/iso7816"
	"github.com/google/go-cmp/cmp"
)

// decode runs messages through a T=0 session, one message per slice
func decode(messages ...[]byte) []iso7816.Record {
	s := iso7816.NewSession(iso7816.Config{})
	var recs []iso7816.Record
	var t time.Duration
	for _, msg := range append([][]byte{{0x3B, 0x00}}, messages...) {
		for _, v := range msg {
			recs = append(recs, s.Feed(iso7816.ByteEvent{Value: v, Start: t, End: t + 800*time.Microsecond})...)
			t += 950 * time.Microsecond
		}
		t += 20 * time.Millisecond
	}
	return append(recs, s.Flush()...)
}

func build(recs []iso7816.Record) (*Builder, []*Transaction) {
	b := NewBuilder()
	var done []*Transaction
	for _, r := range recs {
		if tx := b.Add(r); tx != nil {
			done = append(done, tx)
		}
	}
	if tx := b.Flush(); tx != nil {
		done = append(done, tx)
	}
	return b, done
}

func TestBuilder_CommandAndResponse(t *testing.T) {
	recs := decode(
		[]byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0x3F, 0x00},
		[]byte{0x6F, 0x03, 0x84, 0x01, 0xAA, 0x90, 0x00},
	)
	b, done := build(recs)

	if len(done) != 1 {
		t.Fatalf("got %d transactions, expected 1", len(done))
	}
	tx := done[0]
	if diff := cmp.Diff([]byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0x3F, 0x00}, tx.Command); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0x6F, 0x03, 0x84, 0x01, 0xAA}, tx.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if tx.Name != "SELECT FILE" || tx.Case != "3S" || !tx.Complete || !tx.IsSuccess() {
		t.Errorf("transaction = %+v", tx)
	}
	if !b.Trace().IsSuccess() {
		t.Error("trace should succeed")
	}

	out := strings.ToUpper(tx.Format(true))
	if !strings.Contains(out, "6F:") || !strings.Contains(out, "84: AA") {
		t.Errorf("TLV dump missing:\n%s", out)
	}
}

func TestBuilder_MessageAfterCase1IsAnswer(t *testing.T) {
	recs := decode(
		[]byte{0x00, 0xA4, 0x04, 0x00},
		[]byte{0x00, 0xB0, 0x00, 0x00, 0x10},
	)
	_, done := build(recs)

	// a case 1 command waits for its answer: 00 B0 00 00 10 is read as data and SW
	if len(done) != 1 {
		t.Fatalf("got %d transactions, expected 1", len(done))
	}
	if done[0].IsSuccess() || !done[0].Anomaly {
		t.Errorf("transaction = %+v", done[0])
	}
}

func TestBuilder_UnclassifiableMessage(t *testing.T) {
	recs := decode(
		[]byte{0x00, 0xB0, 0x00, 0x00, 0x05, 0x01, 0x02, 0x03},
		[]byte{0x00, 0xA4, 0x04, 0x00},
	)
	_, done := build(recs)

	if len(done) != 2 {
		t.Fatalf("got %d transactions, expected 2", len(done))
	}
	bad := done[0]
	if bad.Case != iso7816.CaseInvalid.String() || !bad.Anomaly {
		t.Errorf("unclassifiable transaction = %+v", bad)
	}
	if out := bad.Format(false); strings.Contains(out, "(case 1)") {
		t.Errorf("header bytes classified on their own:\n%s", out)
	}
	if done[1].Case != "1" || done[1].Anomaly {
		t.Errorf("following transaction = %+v", done[1])
	}
}

func TestBuilder_FlushOpenTransaction(t *testing.T) {
	_, done := build(decode([]byte{0x00, 0xA4, 0x04, 0x00}))
	if len(done) != 1 || done[0].Complete {
		t.Fatalf("transactions = %+v", done)
	}
	if out := done[0].Format(false); !strings.Contains(out, "no response") {
		t.Errorf("Format = %q", out)
	}
}

func TestTrace_Empty(t *testing.T) {
	var tr Trace
	if tr.Last() != nil || tr.IsSuccess() {
		t.Error("empty trace has no successful last transaction")
	}
}

func TestDescribeTLV(t *testing.T) {
	lines, err := DescribeTLV([]byte{0x50, 0x03, 'P', 'I', 'V'})
	if err != nil {
		t.Fatalf("DescribeTLV: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], `"PIV"`) {
		t.Errorf("lines = %v", lines)
	}
}
