// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import "testing"

// negotiate runs a request and an answer through a negotiator
func negotiate(t *testing.T, request, answer []byte) (*ppsNegotiator, []Record) {
	t.Helper()
	n := newPPSNegotiator()
	var recs []Record

	for i, b := range request {
		rec, done := n.feedRequest(ByteEvent{Value: b})
		recs = append(recs, rec)
		if done != (i == len(request)-1) {
			t.Fatalf("request done=%v at byte %d of %d", done, i+1, len(request))
		}
	}
	for i, b := range answer {
		rec, done := n.feedAnswer(ByteEvent{Value: b})
		recs = append(recs, rec)
		if done != (i == len(answer)-1) {
			t.Fatalf("answer done=%v at byte %d of %d", done, i+1, len(answer))
		}
	}
	return n, recs
}

func TestPPS_Accepted(t *testing.T) {
	request := []byte{0xFF, 0x10, 0x96, 0x79}
	n, recs := negotiate(t, request, request)

	if recs[3].Value != valueTransferOK {
		t.Errorf("PCK = %q", recs[3].Value)
	}
	for _, r := range recs[4:] {
		if r.Value != "Answer ok = true" || r.Anomaly != AnomalyNone {
			t.Errorf("%s: %q (%s)", r.Field, r.Value, r.Anomaly)
		}
	}

	p := DefaultParams()
	n.commit(&p)
	if p.Fi != 512 || p.Di != 32 {
		t.Errorf("Fi/Di = %d/%d, expected 512/32", p.Fi, p.Di)
	}
}

func TestPPS_DeclinedKeepsDefaults(t *testing.T) {
	// the card answers without PPS1
	n, recs := negotiate(t, []byte{0xFF, 0x10, 0x96, 0x79}, []byte{0xFF, 0x00, 0xFF})

	if last := recs[len(recs)-1]; last.Field != "PCK" || last.Anomaly != AnomalyNone {
		t.Errorf("answer PCK = %s %q (%s)", last.Field, last.Value, last.Anomaly)
	}

	p := DefaultParams()
	p.Fi, p.Di = 512, 32
	n.commit(&p)
	if p.Fi != DefaultFi || p.Di != DefaultDi {
		t.Errorf("Fi/Di = %d/%d, expected defaults", p.Fi, p.Di)
	}
}

func TestPPS_MismatchIsSticky(t *testing.T) {
	n, recs := negotiate(t, []byte{0xFF, 0x10, 0x96, 0x79}, []byte{0xFF, 0x10, 0x95, 0x7A})

	answer := recs[4:]
	if answer[0].Anomaly != AnomalyNone || answer[1].Anomaly != AnomalyNone {
		t.Error("PPSS and PPS0 echo correctly")
	}
	for _, r := range answer[2:] {
		if r.Value != "Answer ok = false" || r.Anomaly != AnomalyPPSAnswerMismatch {
			t.Errorf("%s: %q (%s)", r.Field, r.Value, r.Anomaly)
		}
	}
	if n.accepted() {
		t.Error("mismatching answer should not be accepted")
	}
}

func TestPPS_ProtocolMismatch(t *testing.T) {
	n, _ := negotiate(t, []byte{0xFF, 0x01, 0xFE}, []byte{0xFF, 0x00, 0xFF})
	if !n.failed {
		t.Error("protocol nibble mismatch should fail")
	}
}

func TestPPS_RequestChecksum(t *testing.T) {
	_, recs := negotiate(t, []byte{0xFF, 0x00, 0x00}, nil)
	if recs[2].Anomaly != AnomalyChecksumMismatch {
		t.Errorf("PCK anomaly = %s", recs[2].Anomaly)
	}
}

func TestPPS_AllOptionalBytes(t *testing.T) {
	request := []byte{0xFF, 0x71, 0x13, 0x00, 0x00}
	request = append(request, XORChecksum(request))
	n, recs := negotiate(t, request, request)

	want := []string{"PPSS", "PPS0", "PPS1", "PPS2", "PPS3", "PCK"}
	for i, f := range want {
		if recs[i].Field != f || recs[len(request)+i].Field != f {
			t.Errorf("byte %d fields = %s / %s, expected %s", i, recs[i].Field, recs[len(request)+i].Field, f)
		}
	}
	if !n.accepted() || n.protocol != 1 {
		t.Errorf("accepted=%v protocol=%d", n.accepted(), n.protocol)
	}
}
