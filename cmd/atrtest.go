// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/cardwatch/pkg/iso7816"
	"github.com/spf13/cobra"
)

var (
	atrTestTimeout int
)

var atrTestCmd = &cobra.Command{
	Use:   "atr_test",
	Short: "Test the sniffer by waiting for a complete ATR",
	Long: `Wait for a complete Answer-To-Reset on the connection until timeout.

This command connects to a serial port or WebSocket and waits for a card reset.
The ATR is decoded as it arrives; the test succeeds once the last ATR character
(TCK, or the last historical byte when no checksum is due) has been seen.

Exit codes:
  0 - ATR received before timeout
  1 - Timeout reached without a complete ATR, or the ATR failed its checksum
  2 - Connection error

Useful for checking the wiring and baud rate of a sniffer before a capture.`,
	RunE: runATRTest,
}

func init() {
	rootCmd.AddCommand(atrTestCmd)
	atrTestCmd.Flags().IntVar(&atrTestTimeout, "timeout", 10, "Timeout in seconds to wait for an ATR")
}

// atrCollector gathers ATR records until the session leaves the ATR context
type atrCollector struct {
	session *iso7816.Session
	records []iso7816.Record
}

func newATRCollector(cfg iso7816.Config) *atrCollector {
	return &atrCollector{session: iso7816.NewSession(cfg)}
}

// Feed decodes one byte and reports whether the ATR is complete
func (c *atrCollector) Feed(ev iso7816.ByteEvent) bool {
	for _, r := range c.session.Feed(ev) {
		if r.Title == iso7816.TitleATR {
			c.records = append(c.records, r)
		}
	}
	return len(c.records) > 0 && c.session.Context() != iso7816.ContextATR
}

// Valid reports whether every ATR record decoded cleanly
func (c *atrCollector) Valid() bool {
	for _, r := range c.records {
		if r.Anomaly != iso7816.AnomalyNone {
			return false
		}
	}
	return true
}

// Bytes returns the ATR after the bit convention is applied
func (c *atrCollector) Bytes() []byte {
	var atr []byte
	for _, r := range c.records {
		atr = append(atr, r.Decoded...)
	}
	return atr
}

func runATRTest(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Cardwatch - ATR Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", atrTestTimeout)
	fmt.Printf("Waiting for a card reset...\n\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := newATRCollector(sessionConfig())
	events, errc := liveEvents(ctx, conn)
	timeout := time.After(time.Duration(atrTestTimeout) * time.Second)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				fmt.Fprintf(os.Stderr, "Read error: %v\n", <-errc)
				os.Exit(2)
			}
			if !collector.Feed(ev) {
				continue
			}

			for _, r := range collector.records {
				printRecord(r)
			}
			fmt.Println()
			if !collector.Valid() {
				printError("ATR received with errors: % X", collector.Bytes())
				os.Exit(1)
			}
			printSuccess("Received ATR % X", collector.Bytes())
			fmt.Printf("  Parameters: %s\n", iso7816.FormatParams(collector.session.Params()))
			fmt.Printf("  Next context: %s\n", collector.session.Context())
			os.Exit(0)

		case <-timeout:
			if len(collector.records) > 0 {
				fmt.Fprintf(os.Stderr, "TIMEOUT: ATR incomplete after %d characters\n", len(collector.Bytes()))
			} else {
				fmt.Fprintf(os.Stderr, "TIMEOUT: No ATR received within %d seconds\n", atrTestTimeout)
			}
			os.Exit(1)
		}
	}
}
