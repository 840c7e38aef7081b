// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/cardwatch/pkg/iso7816"
	"github.com/logrusorgru/aurora"
)

// printInfo prints a tagged info message to stdout
func printInfo(format string, args ...interface{}) {
	fmt.Println(aurora.Bold(aurora.Blue("[info]")), fmt.Sprintf(format, args...))
}

// printSuccess prints a tagged success message to stdout
func printSuccess(format string, args ...interface{}) {
	fmt.Println(aurora.Bold(aurora.Green("[success]")), fmt.Sprintf(format, args...))
}

// printWarning prints a tagged warning message to stdout
func printWarning(format string, args ...interface{}) {
	fmt.Println(aurora.Bold(aurora.Yellow("[warning]")), fmt.Sprintf(format, args...))
}

// printError prints a tagged error message to stderr
func printError(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, aurora.Bold(aurora.Red("[error]")), fmt.Sprintf(format, args...))
}

// printRecord prints one decoded record, colored by anomaly.
// Checksum and PPS failures are red, other anomalies yellow.
func printRecord(r iso7816.Record) {
	line := iso7816.FormatRecord(r)
	switch r.Anomaly {
	case iso7816.AnomalyNone:
		fmt.Println(line)
	case iso7816.AnomalyChecksumMismatch, iso7816.AnomalyPPSAnswerMismatch:
		fmt.Println(aurora.Red(line))
	default:
		fmt.Println(aurora.Yellow(line))
	}
}

// printValidationErrors prints the issues found in a record below it
func printValidationErrors(r iso7816.Record, errors []iso7816.ValidationError) {
	printRecord(r)
	for i, err := range errors {
		switch err.Type {
		case iso7816.AnomalyChecksumMismatch, iso7816.AnomalyPPSAnswerMismatch:
			fmt.Printf("  Issue %d: %s\n", i+1, aurora.Bold(aurora.Red(err.Message)))
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, aurora.Yellow(err.Message))
		}
		if raw, ok := err.Details["hex"].(string); ok && raw != "" {
			fmt.Printf("    bytes: %s\n", raw)
		}
	}
	fmt.Println()
}
