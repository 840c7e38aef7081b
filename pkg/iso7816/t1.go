// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import "fmt"

// Block parser states
const (
	blockNAD = iota
	blockPCB
	blockLEN
	blockINF
	blockEDC
	blockDone
)

// blockParser decodes one T=1 block: NAD, PCB, LEN, INF and EDC
type blockParser struct {
	state  int
	length int
	inf    int // INF bytes received
	block  []byte
}

func newBlockParser() *blockParser {
	return &blockParser{state: blockNAD}
}

// feed decodes one block byte. The first byte of a CRC is held until the second one
// arrives; done is true once the EDC has been checked.
func (b *blockParser) feed(ev ByteEvent, mode EDCMode) (st step, done bool) {
	b.block = append(b.block, ev.Value)

	switch b.state {
	case blockNAD:
		b.state = blockPCB
		return complete(newRecord(TitleT1, "NAD", DescribeNAD(ev.Value), ev)), false

	case blockPCB:
		b.state = blockLEN
		return complete(newRecord(TitleT1, "PCB", DescribePCB(ev.Value), ev)), false

	case blockLEN:
		b.length = int(ev.Value)
		b.state = blockINF
		if b.length == 0 {
			b.state = blockEDC
		}
		rec := newRecord(TitleT1, "LEN", fmt.Sprintf("%d", b.length), ev)
		if b.length > MaxBlockINF {
			// LEN 255 is reserved; the INF bytes are still read
			rec.Value += " (RFU)"
			rec = rec.withAnomaly(AnomalyMalformedDefault)
		}
		return complete(rec), false

	case blockINF:
		b.inf++
		if b.inf >= b.length {
			b.state = blockEDC
		}
		return complete(newRecord(TitleT1, fmt.Sprintf("INF-%d", b.inf), fmt.Sprintf("%02X", ev.Value), ev)), false

	case blockEDC:
		return b.checkEDC(ev, mode)
	}

	return complete(undefinedRecord(AnomalyUndefined, ev)), true
}

// checkEDC verifies the error detection code at the end of the block
func (b *blockParser) checkEDC(ev ByteEvent, mode EDCMode) (step, bool) {
	field := "EDC : " + mode.String()
	edcStart := 3 + b.length

	switch mode {
	case EDCLRC:
		b.state = blockDone
		if CheckXOR(b.block) {
			return complete(newRecord(TitleT1, field, valueTransferOK, ev)), true
		}
		return complete(newRecord(TitleT1, field, valueTransferError, ev).withAnomaly(AnomalyChecksumMismatch)), true

	case EDCCRC:
		if len(b.block)-edcStart < 2 {
			partial := newRecord(TitleT1, field, "", ev)
			return pending(&partial), false
		}
		b.state = blockDone
		// the held first byte is merged in by the session
		second := newRecord(TitleT1, field, valueTransferOK, ev)
		if !CheckCRC(b.block) {
			second.Value = valueTransferError
			second = second.withAnomaly(AnomalyChecksumMismatch)
		}
		return complete(second), true

	default:
		b.state = blockDone
		return complete(newRecord(TitleT1, "EDC", "Please specify EDC", ev)), true
	}
}

// DescribeNAD decodes the node address byte: destination, source and VPP control
func DescribeNAD(nad byte) string {
	dad := (nad >> 4) & 0x07
	sad := nad & 0x07
	vpp := "VPP: idle"
	if nad&0x88 != 0 {
		vpp = "VPP: active"
	}
	return fmt.Sprintf("DAD: %d, SAD: %d, %s", dad, sad, vpp)
}

// DescribePCB decodes the protocol control byte of an I, R or S block
func DescribePCB(pcb byte) string {
	switch {
	case pcb&0x80 == 0:
		more := "no"
		if pcb&0x20 != 0 {
			more = "yes"
		}
		return fmt.Sprintf("I-block N(S): %d, more data: %s", (pcb>>6)&0x01, more)

	case pcb&0xC0 == 0x80:
		var errText string
		switch pcb & 0x0F {
		case 0x0:
			errText = "error free"
		case 0x1:
			errText = "EDC and/or parity error"
		case 0x2:
			errText = "other errors"
		default:
			errText = "RFU"
		}
		return fmt.Sprintf("R-block N(R): %d, %s", (pcb>>4)&0x01, errText)

	default:
		if pcb == 0xE4 {
			return "S-block VPP state error"
		}
		dir := "request"
		if pcb&0x20 != 0 {
			dir = "response"
		}
		var kind string
		switch pcb & 0x1F {
		case 0x00:
			kind = "RESYNCH"
		case 0x01:
			kind = "IFS"
		case 0x02:
			kind = "ABORT"
		case 0x03:
			kind = "WTX"
		default:
			kind = "RFU"
		}
		return fmt.Sprintf("S-block %s %s", kind, dir)
	}
}
