// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/cardwatch/pkg/iso7816"
)

// Saleae export column names. Logic 2 exports start_time/duration/data, Logic 1.x
// exports "Time [s]" and "Value".
var (
	startColumns    = []string{"start_time", "time [s]"}
	durationColumns = []string{"duration"}
	dataColumns     = []string{"data", "value"}
	typeColumns     = []string{"type"}
)

// CharacterTime returns the duration of one ISO 7816 character (start bit, 8 data
// bits, parity and two guard bits) at the given baud rate
func CharacterTime(baud int) time.Duration {
	if baud <= 0 {
		baud = 9600
	}
	return time.Duration(12 * float64(time.Second) / float64(baud))
}

// ReadSaleaeCSV reads the decoded bytes of a Saleae Logic async serial analyzer
// export. Rows without a duration last one character time at baud.
func ReadSaleaeCSV(r io.Reader, baud int) ([]iso7816.ByteEvent, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	startCol := findColumn(header, startColumns)
	dataCol := findColumn(header, dataColumns)
	durationCol := findColumn(header, durationColumns)
	typeCol := findColumn(header, typeColumns)
	if startCol < 0 || dataCol < 0 {
		return nil, fmt.Errorf("CSV header %v lacks start time or data column", header)
	}

	charTime := CharacterTime(baud)
	var events []iso7816.ByteEvent
	line := 1

	for {
		row, err := cr.Read()
		if err == io.EOF {
			return events, nil
		}
		line++
		if err != nil {
			return events, fmt.Errorf("line %d: %w", line, err)
		}

		if typeCol >= 0 && typeCol < len(row) && row[typeCol] != "" && !strings.EqualFold(row[typeCol], "data") {
			continue
		}
		if startCol >= len(row) || dataCol >= len(row) {
			return events, fmt.Errorf("line %d: expected at least %d columns, got %d", line, max(startCol, dataCol)+1, len(row))
		}

		start, err := parseSeconds(row[startCol])
		if err != nil {
			return events, fmt.Errorf("line %d: invalid start time %q: %w", line, row[startCol], err)
		}

		value, err := parseByte(row[dataCol])
		if err != nil {
			return events, fmt.Errorf("line %d: invalid data %q: %w", line, row[dataCol], err)
		}

		length := charTime
		if durationCol >= 0 && durationCol < len(row) && row[durationCol] != "" {
			length, err = parseSeconds(row[durationCol])
			if err != nil {
				return events, fmt.Errorf("line %d: invalid duration %q: %w", line, row[durationCol], err)
			}
		}

		events = append(events, iso7816.ByteEvent{Value: value, Start: start, End: start + length})
	}
}

// findColumn returns the index of the first header matching one of names
func findColumn(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, name := range names {
			if h == name {
				return i
			}
		}
	}
	return -1
}

func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

// parseByte accepts 0x-prefixed hex, bare decimal, and the quoted single
// characters Logic 1.x writes in ASCII mode
func parseByte(s string) (byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == 3 && s[0] == '\'' && s[2] == '\'' {
		return s[1], nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}
