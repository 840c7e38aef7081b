// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iso7816

import (
	"fmt"
	"strings"
	"time"
)

// FormatRecord formats a record into a single human-readable line
func FormatRecord(r Record) string {
	result := fmt.Sprintf("[%s] %-18s %-12s %-11s %s", FormatOffset(r.Start), r.Title, r.Field, r.Hex, r.Value)
	if r.Anomaly != AnomalyNone {
		result += fmt.Sprintf("  <%s>", r.Anomaly)
	}
	return result
}

// FormatOffset formats a capture offset as seconds with microsecond resolution
func FormatOffset(d time.Duration) string {
	return fmt.Sprintf("%12.6f", d.Seconds())
}

// FormatParams returns a one-line summary of the transmission parameters
func FormatParams(p Params) string {
	protocols := make([]string, len(p.T))
	for i, t := range p.T {
		protocols[i] = fmt.Sprintf("T=%d", t)
	}
	if len(protocols) == 0 {
		protocols = []string{"T=?"}
	}

	convention := "direct"
	if p.Inverse {
		convention = "inverse"
	}

	return fmt.Sprintf("Fi=%d Di=%d N=%d WI=%d %s %s etu=%s cwt=%s",
		p.Fi, p.Di, p.N, p.WI, strings.Join(protocols, ","), convention,
		ETU(p), CharacterWaitingTime(p))
}
