// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import (
	"log"
	"time"
)

// Config holds the decoding options of a session
type Config struct {
	EDC    EDCMode     // error detection code of T=1 blocks
	Clock  float64     // card clock in Hz, 0 selects DefaultClock
	Logger *log.Logger // decode trace, nil disables tracing
}

// Session decodes one card session byte by byte. It starts in the ATR context and
// follows the card through PPS and the T=0 or T=1 exchange. A Session is not safe
// for concurrent use.
type Session struct {
	cfg      Config
	ctx      Context
	params   Params
	protocol int

	atr   *atrParser
	pps   *ppsNegotiator
	block *blockParser

	buffer       messageBuffer // bytes of the T=0 message being stored
	expectAnswer bool          // the stored command had no response part
	mayNegotiate bool          // a PPS request may follow the ATR
	held         *Record
	lastEnd      time.Duration
	bytes        int
}

// NewSession creates a session waiting for an ATR
func NewSession(cfg Config) *Session {
	s := &Session{cfg: cfg}
	s.Reset()
	return s
}

// Reset returns the session to the ATR context with default parameters, as after a
// card reset
func (s *Session) Reset() {
	s.ctx = ContextATR
	s.params = DefaultParams()
	if s.cfg.Clock > 0 {
		s.params.Clock = s.cfg.Clock
	}
	s.protocol = 0
	s.atr = newATRParser()
	s.pps = nil
	s.block = nil
	s.buffer.clear()
	s.expectAnswer = false
	s.mayNegotiate = false
	s.held = nil
	s.lastEnd = 0
	s.bytes = 0
}

// Context returns the current decoding context
func (s *Session) Context() Context {
	return s.ctx
}

// Params returns a copy of the transmission parameters in force
func (s *Session) Params() Params {
	return s.params.clone()
}

// Protocol returns the transmission protocol in force
func (s *Session) Protocol() int {
	return s.protocol
}

// Feed decodes one byte event and returns the records it completes, in byte order.
// Bytes that only extend a pending unit return no records. The parsers see the
// convention-corrected value; emitted records keep the octets seen on the line.
func (s *Session) Feed(ev ByteEvent) []Record {
	s.bytes++
	if s.params.Inverse && s.atr.conventionKnown() {
		ev.Value = Invert(ev.Value)
	}

	st := s.dispatch(ev)
	s.lastEnd = ev.End
	return s.emit(s.release(st))
}

// emit restores the observed octets of records decoded under the inverse convention
func (s *Session) emit(recs []Record) []Record {
	if !s.params.Inverse {
		return recs
	}
	for i := range recs {
		recs[i] = recs[i].inverted()
	}
	return recs
}

// Flush reports what is still buffered when the capture ends: the last stored T=0
// message and any record held for a missing byte.
func (s *Session) Flush() []Record {
	var out []Record
	if s.ctx == ContextStoringFrames && s.buffer.len() > 0 {
		recs, resync := s.finishMessage()
		out = append(out, recs...)
		if resync {
			s.transition(ContextSearchingInit)
		}
	}
	if s.held != nil {
		rec := s.held.withAnomaly(AnomalyUndefined)
		rec.Value = "Incomplete"
		out = append(out, rec)
		s.held = nil
	}
	return s.emit(out)
}

// dispatch routes a corrected byte to the parser of the current context
func (s *Session) dispatch(ev ByteEvent) step {
	switch s.ctx {
	case ContextATR:
		return s.handleATR(ev)
	case ContextPPS:
		return s.handlePPS(ev)
	case ContextPPSAnswer:
		return s.handlePPSAnswer(ev)
	case ContextSearchingInit:
		return s.handleSearching(ev)
	case ContextStoringFrames:
		return s.handleStoringFrames(ev)
	case ContextT1Exchange:
		return s.handleT1(ev)
	default:
		return complete(undefinedRecord(AnomalyUndefined, ev))
	}
}

// release applies the hold mechanism to the outcome of one byte
func (s *Session) release(st step) []Record {
	if st.pending {
		if st.partial != nil {
			if s.held == nil {
				held := *st.partial
				s.held = &held
			} else {
				merged := s.held.merge(*st.partial)
				s.held = &merged
			}
		}
		return st.records
	}

	if s.held != nil && len(st.records) > 0 {
		st.records[0] = s.held.merge(st.records[0])
		s.held = nil
	}
	return st.records
}

// transition switches context and clears the per-unit state
func (s *Session) transition(next Context) {
	if next != s.ctx {
		s.tracef("context %s -> %s (byte %d)", s.ctx, next, s.bytes)
	}
	s.ctx = next
	s.buffer.clear()
	s.expectAnswer = false
	s.block = nil
}

func (s *Session) handleATR(ev ByteEvent) step {
	rec, done := s.atr.feed(ev, &s.params)
	if !done {
		return complete(rec)
	}

	next := s.atr.nextContext(s.params)
	s.protocol = s.atr.protocol(s.params)
	s.mayNegotiate = next == ContextSearchingInit
	s.tracef("ATR complete: Fi=%d Di=%d N=%d T=%v", s.params.Fi, s.params.Di, s.params.N, s.params.T)
	s.transition(next)
	return complete(rec)
}

func (s *Session) handleSearching(ev ByteEvent) step {
	if ev.Value == PPSS && s.mayNegotiate {
		s.pps = newPPSNegotiator()
		s.transition(ContextPPS)
		return s.handlePPS(ev)
	}

	// no PPS: the byte starts the exchange
	s.mayNegotiate = false
	s.transition(exchangeContext(s.protocol))
	return s.dispatch(ev)
}

func (s *Session) handlePPS(ev ByteEvent) step {
	rec, done := s.pps.feedRequest(ev)
	if done {
		s.transition(ContextPPSAnswer)
	}
	return complete(rec)
}

func (s *Session) handlePPSAnswer(ev ByteEvent) step {
	rec, done := s.pps.feedAnswer(ev)
	if done {
		s.pps.commit(&s.params)
		s.protocol = s.pps.protocol
		s.mayNegotiate = false
		s.tracef("PPS %s: Fi=%d Di=%d T=%d", okText(s.pps.accepted()), s.params.Fi, s.params.Di, s.protocol)
		s.pps = nil
		s.transition(exchangeContext(s.protocol))
	}
	return complete(rec)
}

// handleStoringFrames accumulates T=0 bytes until a gap longer than the scaled
// character waiting time ends the message, which is then decoded.
func (s *Session) handleStoringFrames(ev ByteEvent) step {
	threshold := time.Duration(float64(CharacterWaitingTime(s.params)) * frameGapFactor)
	if s.buffer.len() == 0 || ev.Start-s.lastEnd < threshold {
		s.buffer.push(ev)
		return pending(nil)
	}

	recs, resync := s.finishMessage()
	if resync {
		s.transition(ContextSearchingInit)
		st := s.dispatch(ev)
		st.records = append(recs, st.records...)
		return st
	}

	s.buffer.push(ev)
	return step{pending: true, records: recs}
}

// finishMessage decodes the stored T=0 message. resync is true when the message could
// not be classified and the session must search for the next command.
func (s *Session) finishMessage() (recs []Record, resync bool) {
	events := append([]ByteEvent(nil), s.buffer.events...)
	s.buffer.clear()

	if s.expectAnswer {
		s.expectAnswer = false
		return answerRecords(events), false
	}

	c, n, hypothesis := classifyMessage(events, s.params)
	if c == CaseInvalid {
		s.tracef("no APDU case fits %d bytes, resynchronizing", len(events))
		return invalidRecords(events), true
	}
	s.tracef("APDU case %s (%s, %d of %d bytes)", c, hypothesis, n, len(events))

	recs = commandRecords(events[:n], c)
	if n < len(events) {
		recs = append(recs, answerRecords(events[n:])...)
	} else {
		s.expectAnswer = true
	}
	return recs, false
}

func (s *Session) handleT1(ev ByteEvent) step {
	if s.block == nil {
		s.block = newBlockParser()
	}
	st, done := s.block.feed(ev, s.cfg.EDC)
	if done {
		// ready for the next block
		s.block = nil
	}
	return st
}

func (s *Session) tracef(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}

func okText(ok bool) string {
	if ok {
		return "accepted"
	}
	return "rejected"
}
