// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import "fmt"

// Case is the ISO/IEC 7816-4 command APDU case
type Case int

// APDU cases
const (
	CaseInvalid Case = iota
	Case1
	Case2S
	Case3S
	Case4S
	Case2E
	Case3E
	Case4E
)

// String returns the case label
func (c Case) String() string {
	switch c {
	case Case1:
		return "1"
	case Case2S:
		return "2S"
	case Case3S:
		return "3S"
	case Case4S:
		return "4S"
	case Case2E:
		return "2E"
	case Case3E:
		return "3E"
	case Case4E:
		return "4E"
	default:
		return "INVALID"
	}
}

// Classify returns the case of a command APDU from its length and length fields.
// Commands shorter than the 4-byte header are invalid.
func Classify(cmd []byte) Case {
	if len(cmd) < apduHeaderLen {
		return CaseInvalid
	}
	l := len(cmd) - apduHeaderLen
	if l == 0 {
		return Case1
	}

	b1 := int(cmd[4])
	if l == 1 {
		return Case2S
	}
	if b1 != 0 {
		switch l {
		case 1 + b1:
			return Case3S
		case 2 + b1:
			return Case4S
		}
		return CaseInvalid
	}

	if l == 3 {
		return Case2E
	}
	if l < 3 {
		return CaseInvalid
	}
	b23 := int(cmd[5])<<8 | int(cmd[6])
	if b23 == 0 {
		return CaseInvalid
	}
	switch l {
	case 3 + b23:
		return Case3E
	case 5 + b23:
		return Case4E
	}
	return CaseInvalid
}

// Candidate window hypotheses, in the order they are tried
const (
	hypothesisFull       = "full message"
	hypothesisStatusWord = "message minus SW1-SW2"
	hypothesisCutting    = "prefix up to cutting point"
)

// cuttingPoints returns the indexes i where the gap between bytes i-1 and i exceeds
// half the character waiting time (after adding one ETU), scanning from the end.
func cuttingPoints(events []ByteEvent, p Params) []int {
	etu := ETU(p)
	half := CharacterWaitingTime(p) / 2
	var points []int
	for i := len(events) - 1; i > 0; i-- {
		gap := events[i].Start - events[i-1].End
		if gap+etu > half {
			points = append(points, i)
		}
	}
	return points
}

// classifyMessage finds the command part of a stored T=0 message. It returns the case
// and length of the command, with the name of the hypothesis that produced it.
func classifyMessage(events []ByteEvent, p Params) (Case, int, string) {
	values := eventValues(events)

	if c := Classify(values); c != CaseInvalid {
		return c, len(values), hypothesisFull
	}
	if n := len(values) - 2; n >= apduHeaderLen {
		if c := Classify(values[:n]); c != CaseInvalid {
			return c, n, hypothesisStatusWord
		}
	}
	if points := cuttingPoints(events, p); len(points) > 0 {
		n := points[0]
		if c := Classify(values[:n]); c != CaseInvalid {
			return c, n, hypothesisCutting
		}
	}
	return CaseInvalid, 0, ""
}

func eventValues(events []ByteEvent) []byte {
	values := make([]byte, len(events))
	for i, ev := range events {
		values[i] = ev.Value
	}
	return values
}

// headerRecords decodes CLA, INS, P1 and P2
func headerRecords(events []ByteEvent) []Record {
	cla, ins := events[0].Value, events[1].Value
	insRec := newRecord(TitleAPDU, "INS", "", events[1])
	name, known := InstructionName(cla, ins)
	insRec.Value = name
	if !known {
		insRec = insRec.withAnomaly(AnomalyUnknownCode)
	}
	return []Record{
		newRecord(TitleAPDU, "CLA", DescribeClass(cla), events[0]),
		insRec,
		newRecord(TitleAPDU, "P1", fmt.Sprintf("%02X", events[2].Value), events[2]),
		newRecord(TitleAPDU, "P2", fmt.Sprintf("%02X", events[3].Value), events[3]),
	}
}

// commandRecords decodes a classified command APDU
func commandRecords(events []ByteEvent, c Case) []Record {
	recs := headerRecords(events)
	body := events[apduHeaderLen:]

	switch c {
	case Case2S:
		recs = append(recs, newRecord(TitleAPDU, "Le", shortLe(body[0].Value), body[0]))
	case Case3S, Case4S:
		nc := int(body[0].Value)
		recs = append(recs, newRecord(TitleAPDU, "Lc", fmt.Sprintf("%d", nc), body[0]))
		recs = append(recs, dataRecords(TitleAPDU, "DATA", body[1:1+nc])...)
		if c == Case4S {
			le := body[1+nc]
			recs = append(recs, newRecord(TitleAPDU, "Le", shortLe(le.Value), le))
		}
	case Case2E:
		recs = append(recs, newRecord(TitleAPDU, "Le", extendedLe(body[1].Value, body[2].Value), body[:3]...))
	case Case3E, Case4E:
		nc := int(body[1].Value)<<8 | int(body[2].Value)
		recs = append(recs, newRecord(TitleAPDU, "Lc", fmt.Sprintf("%d", nc), body[:3]...))
		recs = append(recs, dataRecords(TitleAPDU, "DATA", body[3:3+nc])...)
		if c == Case4E {
			le := body[3+nc : 5+nc]
			recs = append(recs, newRecord(TitleAPDU, "Le", extendedLe(le[0].Value, le[1].Value), le...))
		}
	}
	return recs
}

// shortLe formats a short Le; 00 means 256
func shortLe(b byte) string {
	if b == 0 {
		return "256"
	}
	return fmt.Sprintf("%d", b)
}

// extendedLe formats a two-byte Le; 0000 means 65536
func extendedLe(hi, lo byte) string {
	ne := int(hi)<<8 | int(lo)
	if ne == 0 {
		ne = 65536
	}
	return fmt.Sprintf("%d", ne)
}

// dataRecords reports each byte of a data field as its own record
func dataRecords(title Title, field string, events []ByteEvent) []Record {
	recs := make([]Record, 0, len(events))
	for _, ev := range events {
		recs = append(recs, newRecord(title, field, fmt.Sprintf("%02X", ev.Value), ev))
	}
	return recs
}

// answerRecords decodes a response: data bytes followed by SW1-SW2
func answerRecords(events []ByteEvent) []Record {
	if len(events) < 2 {
		return []Record{undefinedRecord(AnomalyStructuralAmbiguity, events...)}
	}
	n := len(events) - 2
	recs := dataRecords(TitleAPDUAnswer, "ANSWER DATA", events[:n])

	sw1, sw2 := events[n].Value, events[n+1].Value
	desc, known := DescribeStatus(sw1, sw2)
	sw := newRecord(TitleAPDUAnswer, "SW1-SW2", desc, events[n:]...)
	if !known {
		sw = sw.withAnomaly(AnomalyUnknownCode)
	}
	return append(recs, sw)
}

// invalidRecords reports a message no hypothesis could classify: the header when there
// is one, then the rest as undefined.
func invalidRecords(events []ByteEvent) []Record {
	var recs []Record
	rest := events
	if len(events) >= apduHeaderLen {
		recs = headerRecords(events)
		rest = events[apduHeaderLen:]
	}
	if len(rest) > 0 {
		recs = append(recs, undefinedRecord(AnomalyStructuralAmbiguity, rest...))
	}
	return recs
}

// undefinedRecord reports bytes that cannot be decoded in the current context
func undefinedRecord(a AnomalyType, events ...ByteEvent) Record {
	return newRecord(TitleUndefined, valueUndefined, valueUndefined, events...).withAnomaly(a)
}
