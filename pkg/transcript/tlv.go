// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transcript

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"
)

// DescribeTLV decodes data as BER-TLV and returns one indented line per object.
// Constructed objects list their children below them.
func DescribeTLV(data []byte) ([]string, error) {
	tlvs, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("response data is not BER-TLV: %w", err)
	}
	var lines []string
	describe(&lines, tlvs, 0)
	return lines, nil
}

func describe(lines *[]string, tlvs []bertlv.TLV, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, t := range tlvs {
		if len(t.TLVs) > 0 {
			*lines = append(*lines, fmt.Sprintf("%s%s:", indent, t.Tag))
			describe(lines, t.TLVs, depth+1)
			continue
		}
		*lines = append(*lines, fmt.Sprintf("%s%s: %s%s", indent, t.Tag,
			strings.ToUpper(hex.EncodeToString(t.Value)), printable(t.Value)))
	}
}

// printable returns the value as quoted text when every byte is printable ASCII
func printable(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	for _, c := range b {
		if c < 32 || c > 126 {
			return ""
		}
	}
	return fmt.Sprintf(" (%q)", string(b))
}
