// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/cardwatch/pkg/iso7816"
	tea "github.com/charmbracelet/bubbletea"
)

// feedModel decodes messages and hands every record to the model
func feedModel(m model, messages ...[]byte) model {
	session := iso7816.NewSession(iso7816.Config{})
	var at time.Duration
	var recs []iso7816.Record
	for _, msg := range messages {
		for _, v := range msg {
			recs = append(recs, session.Feed(iso7816.ByteEvent{Value: v, Start: at, End: at + 800*time.Microsecond})...)
			at += 950 * time.Microsecond
		}
		at += 20 * time.Millisecond
	}
	recs = append(recs, session.Flush()...)

	for _, r := range recs {
		next, _ := m.Update(recordMsg{
			record:           r,
			validationErrors: iso7816.ValidateRecord(r),
			context:          session.Context(),
			params:           session.Params(),
		})
		m = next.(model)
	}
	return m
}

func TestModel_ErrorsOnly(t *testing.T) {
	m := feedModel(initialModel("test", 10, false),
		[]byte{0x3B, 0x00},
		[]byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0x3F, 0x00},
		[]byte{0x6A, 0x82},
	)

	if got := hexOrNone(m.atr); got != "3B 00" {
		t.Errorf("ATR = %q", got)
	}
	if !strings.HasPrefix(m.lastSW, "6A 82") {
		t.Errorf("last SW = %q", m.lastSW)
	}
	if m.stats.Commands != 1 {
		t.Errorf("commands = %d", m.stats.Commands)
	}
	// only the reset notice is logged: the exchange is clean
	if len(m.errorLog) != 1 || m.errorLog[0].isError {
		t.Errorf("log = %+v", m.errorLog)
	}
}

func TestModel_ShowAllAndAnomalies(t *testing.T) {
	m := feedModel(initialModel("test", 10, true),
		[]byte{0x3B, 0x00},
		[]byte{0x00, 0xA4},
	)

	var errors int
	for _, entry := range m.errorLog {
		if entry.isError {
			errors++
		}
	}
	if errors == 0 {
		t.Errorf("a message that fits no APDU case should be logged as an error: %+v", m.errorLog)
	}
	if len(m.errorLog) <= errors {
		t.Error("show-all should log clean records too")
	}
}

func TestModel_Quit(t *testing.T) {
	next, cmd := initialModel("test", 10, false).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !next.(model).quitting || cmd == nil {
		t.Error("q should quit")
	}
}

func TestTopStatusWords(t *testing.T) {
	stats := iso7816.NewStatistics()
	stats.StatusWordsByCode["90 00"] = 5
	stats.StatusWordsByCode["6A 82"] = 2
	stats.StatusWordsByCode["61 10"] = 2
	stats.StatusWordsByCode["6D 00"] = 1

	got := topStatusWords(stats, 3)
	want := "90 00 ×5, 61 10 ×2, 6A 82 ×2"
	if got != want {
		t.Errorf("topStatusWords = %q, expected %q", got, want)
	}
}
