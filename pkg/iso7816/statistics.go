// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import (
	"fmt"
	"sort"
	"time"
)

// Statistics tracks decoded records and anomaly rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalRecords      uint64
	CleanRecords      uint64
	ChecksumErrors    uint64
	UnknownCodes      uint64
	Ambiguities       uint64
	MalformedValues   uint64
	PPSFailures       uint64
	UndefinedBytes    uint64
	Commands          uint64 // command APDUs, counted on CLA
	Blocks            uint64 // T=1 blocks, counted on NAD
	ATRs              uint64
	RecordsByTitle    map[Title]uint64
	StatusWordsByCode map[string]uint64

	// Rates (calculated)
	RecordRate float64 // records/sec
	ErrorRate  float64 // anomalies/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:         now,
		LastUpdateTime:    now,
		RecordsByTitle:    make(map[Title]uint64),
		StatusWordsByCode: make(map[string]uint64),
	}
}

// Update counts a decoded record
func (s *Statistics) Update(r Record) {
	s.TotalRecords++
	s.RecordsByTitle[r.Title]++

	switch {
	case r.Title == TitleAPDU && r.Field == "CLA":
		s.Commands++
	case r.Title == TitleT1 && r.Field == "NAD":
		s.Blocks++
	case r.Title == TitleATR && r.Field == "TS" && r.Anomaly == AnomalyNone:
		s.ATRs++
	case r.Field == "SW1-SW2":
		s.StatusWordsByCode[hexString(r.Decoded)]++
	}

	switch r.Anomaly {
	case AnomalyNone:
		s.CleanRecords++
	case AnomalyChecksumMismatch:
		s.ChecksumErrors++
	case AnomalyUnknownCode:
		s.UnknownCodes++
	case AnomalyStructuralAmbiguity:
		s.Ambiguities++
	case AnomalyMalformedDefault:
		s.MalformedValues++
	case AnomalyPPSAnswerMismatch:
		s.PPSFailures++
	case AnomalyUndefined:
		s.UndefinedBytes++
	}

	s.LastUpdateTime = time.Now()
}

// Errors returns the number of records carrying an anomaly
func (s *Statistics) Errors() uint64 {
	return s.TotalRecords - s.CleanRecords
}

// CalculateRates calculates record and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.RecordRate = float64(s.TotalRecords) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var cleanPercent, errorPercent float64
	if s.TotalRecords > 0 {
		cleanPercent = float64(s.CleanRecords) * 100.0 / float64(s.TotalRecords)
		errorPercent = float64(s.Errors()) * 100.0 / float64(s.TotalRecords)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Records:   %8d\n", s.TotalRecords)
	result += fmt.Sprintf("Clean Records:   %8d (%.1f%%)\n", s.CleanRecords, cleanPercent)
	result += fmt.Sprintf("ATRs:            %8d\n", s.ATRs)
	result += fmt.Sprintf("Commands:        %8d\n", s.Commands)
	result += fmt.Sprintf("T=1 Blocks:      %8d\n", s.Blocks)

	if s.Errors() > 0 {
		result += fmt.Sprintf("Anomalies:       %8d (%.1f%%)\n", s.Errors(), errorPercent)
		if s.ChecksumErrors > 0 {
			result += fmt.Sprintf("  Checksum:         %5d\n", s.ChecksumErrors)
		}
		if s.UnknownCodes > 0 {
			result += fmt.Sprintf("  Unknown Codes:    %5d\n", s.UnknownCodes)
		}
		if s.Ambiguities > 0 {
			result += fmt.Sprintf("  No APDU Case:     %5d\n", s.Ambiguities)
		}
		if s.MalformedValues > 0 {
			result += fmt.Sprintf("  Malformed:        %5d\n", s.MalformedValues)
		}
		if s.PPSFailures > 0 {
			result += fmt.Sprintf("  PPS Failures:     %5d\n", s.PPSFailures)
		}
		if s.UndefinedBytes > 0 {
			result += fmt.Sprintf("  Undefined:        %5d\n", s.UndefinedBytes)
		}
	}

	if len(s.StatusWordsByCode) > 0 {
		result += "Status Words:\n"
		codes := make([]string, 0, len(s.StatusWordsByCode))
		for code := range s.StatusWordsByCode {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			result += fmt.Sprintf("  %s:          %5d\n", code, s.StatusWordsByCode[code])
		}
	}

	result += fmt.Sprintf("Record Rate:     %8.1f recs/sec\n", s.RecordRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
