// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transcript groups decoded T=0 records into command/response transactions.
//
// A Transaction is one command APDU and the response that followed it. A Trace is
// the chronological list of transactions of a session, including the GET RESPONSE
// and Le retries that 61XX and 6CXX status words provoke.
package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/cardwatch/pkg/iso7816"
)

// Transaction is a command APDU and its response
type Transaction struct {
	Start    time.Duration
	End      time.Duration
	Case     string
	Command  []byte
	Name     string // instruction name
	Data     []byte // response data
	SW       []byte // SW1 SW2, empty when no response was seen
	Status   string
	Anomaly  bool
	Complete bool
}

// IsSuccess reports whether the card answered 9000 or 61XX
func (t *Transaction) IsSuccess() bool {
	if len(t.SW) != 2 {
		return false
	}
	return (t.SW[0] == 0x90 && t.SW[1] == 0x00) || t.SW[0] == 0x61
}

// Trace is a sequence of transactions
type Trace []Transaction

// Last returns the final transaction of the trace, nil if the trace is empty
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess reports whether the final transaction succeeded
func (t Trace) IsSuccess() bool {
	last := t.Last()
	if last == nil {
		return false
	}
	return last.IsSuccess()
}

// Builder assembles transactions from records as they are decoded
type Builder struct {
	current *Transaction
	trace   Trace
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Add consumes one record and returns the transaction it completes, if any.
// Records other than APDU commands and answers are ignored.
func (b *Builder) Add(r iso7816.Record) *Transaction {
	switch r.Title {
	case iso7816.TitleAPDU:
		var done *Transaction
		if r.Field == "CLA" {
			// a new command ends a transaction that never got its answer
			done = b.finish()
			b.current = &Transaction{Start: r.Start}
		}
		if b.current == nil {
			return done
		}
		b.current.Command = append(b.current.Command, r.Decoded...)
		b.current.End = r.End
		if r.Field == "INS" {
			b.current.Name = r.Value
		}
		if r.Anomaly != iso7816.AnomalyNone {
			b.current.Anomaly = true
		}
		return done

	case iso7816.TitleAPDUAnswer:
		if b.current == nil {
			b.current = &Transaction{Start: r.Start}
		}
		b.current.End = r.End
		if r.Anomaly != iso7816.AnomalyNone {
			b.current.Anomaly = true
		}
		if r.Field != "SW1-SW2" {
			b.current.Data = append(b.current.Data, r.Decoded...)
			return nil
		}
		b.current.SW = append([]byte(nil), r.Decoded...)
		b.current.Status = r.Value
		b.current.Complete = true
		return b.finish()

	case iso7816.TitleUndefined:
		if b.current == nil {
			return nil
		}
		b.current.Anomaly = true
		if r.Anomaly == iso7816.AnomalyStructuralAmbiguity {
			// the message fit no APDU case; the header bytes alone must not be classified
			b.current.Case = iso7816.CaseInvalid.String()
		}
	}
	return nil
}

// Flush returns the transaction still open, if any
func (b *Builder) Flush() *Transaction {
	return b.finish()
}

// Trace returns every transaction finished so far
func (b *Builder) Trace() Trace {
	return b.trace
}

func (b *Builder) finish() *Transaction {
	if b.current == nil {
		return nil
	}
	t := *b.current
	if t.Case == "" && len(t.Command) >= 4 {
		t.Case = iso7816.Classify(t.Command).String()
	}
	b.trace = append(b.trace, t)
	b.current = nil
	return &b.trace[len(b.trace)-1]
}

// Format returns the transaction as command and response lines. With tlv set, the
// response data is also shown as a BER-TLV tree when it parses as one.
func (t *Transaction) Format(tlv bool) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "[%s] >> %s", iso7816.FormatOffset(t.Start), hexBytes(t.Command))
	if t.Name != "" {
		fmt.Fprintf(&sb, "  %s", t.Name)
	}
	if t.Case != "" {
		fmt.Fprintf(&sb, " (case %s)", t.Case)
	}
	sb.WriteString("\n")

	if len(t.SW) == 0 && len(t.Data) == 0 {
		sb.WriteString("               << no response\n")
		return sb.String()
	}

	resp := append(append([]byte(nil), t.Data...), t.SW...)
	fmt.Fprintf(&sb, "               << %s", hexBytes(resp))
	if t.Status != "" {
		fmt.Fprintf(&sb, "  %s", t.Status)
	}
	sb.WriteString("\n")

	if tlv && len(t.Data) > 0 {
		if lines, err := DescribeTLV(t.Data); err == nil {
			for _, line := range lines {
				sb.WriteString("                  " + line + "\n")
			}
		}
	}
	return sb.String()
}

func hexBytes(b []byte) string {
	if len(b) == 0 {
		return "-"
	}
	return fmt.Sprintf("% X", b)
}
