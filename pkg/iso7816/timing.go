// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import (
	"math"
	"time"
)

// Params holds the transmission parameters announced by the ATR or negotiated by PPS
type Params struct {
	Fi      int
	Di      int
	N       int     // extra guard time integer (TC1)
	WI      int     // waiting time integer (TC2)
	T       []int   // declared protocols in order of appearance
	Clock   float64 // card clock frequency in Hz
	Inverse bool    // inverse convention detected on TS
}

// DefaultParams returns the parameters in force before any interface byte is seen
func DefaultParams() Params {
	return Params{
		Fi:    DefaultFi,
		Di:    DefaultDi,
		N:     DefaultN,
		WI:    DefaultWI,
		Clock: DefaultClock,
	}
}

// HasProtocol reports whether protocol t was declared
func (p Params) HasProtocol(t int) bool {
	for _, v := range p.T {
		if v == t {
			return true
		}
	}
	return false
}

// Protocol returns the first declared protocol, 0 when none was declared
func (p Params) Protocol() int {
	if len(p.T) == 0 {
		return 0
	}
	return p.T[0]
}

// addProtocol appends t unless already declared
func (p *Params) addProtocol(t int) {
	if !p.HasProtocol(t) {
		p.T = append(p.T, t)
	}
}

// clone returns a copy that does not share the protocol slice
func (p Params) clone() Params {
	out := p
	out.T = append([]int(nil), p.T...)
	return out
}

// ratio returns Fi/Di, falling back to the default Di when Di is not positive
func ratio(fi, di int) float64 {
	if di <= 0 {
		di = DefaultDi
	}
	if fi <= 0 {
		fi = DefaultFi
	}
	return float64(fi) / float64(di)
}

// clock returns the configured clock, falling back to the default frequency
func (p Params) clock() float64 {
	if p.Clock <= 0 {
		return DefaultClock
	}
	return p.Clock
}

// etuSeconds returns the elementary time unit in seconds
func (p Params) etuSeconds() float64 {
	return ratio(p.Fi, p.Di) / p.clock()
}

// ETU returns the elementary time unit Fi / (Di * f)
func ETU(p Params) time.Duration {
	return seconds(p.etuSeconds())
}

// GuardTime returns the minimum delay between the leading edges of two consecutive
// characters: 12 etu plus N times Fi/f. When protocol 15 is declared the extra guard
// time is computed with the default Fi/Di.
func GuardTime(p Params) time.Duration {
	q := ratio(p.Fi, p.Di)
	if p.HasProtocol(15) {
		q = ratio(DefaultFi, DefaultDi)
	}
	return seconds(12*p.etuSeconds() + q*float64(p.N)/p.clock())
}

// CharacterWaitingTime returns the maximum delay between two characters of one unit
func CharacterWaitingTime(p Params) time.Duration {
	cwt := p.etuSeconds()
	if p.HasProtocol(1) {
		cwt *= 11 + math.Pow(2, float64(p.WI))
	} else {
		cwt *= 11
	}
	return seconds(cwt)
}
