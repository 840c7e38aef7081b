// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Cardwatch - ISO 7816 Smart Card I/O Line Analyzer
//
// A CLI tool for decoding the sniffed I/O line between a smart card and its
// reader (ATR, PPS, T=0 APDUs and T=1 blocks) in human-readable format.

package main

import (
	"os"

	"github.com/Thermoquad/cardwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
