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

var lineCheckCmd = &cobra.Command{
	Use:   "line_check",
	Short: "Dump raw line bytes to check the sniffer connection",
	Long: `Watch the sniffed line without decoding it.

This command connects to the serial port or WebSocket and prints every burst of
characters with its offset and the silence before it, measured in elementary
time units at the default parameters. Useful for checking wiring, baud rate and
connection stability before a capture.

Exit codes:
  0 - Check completed normally
  1 - Connection lost during the check
  2 - Connection error`,
	RunE: runLineCheck,
}

var lineCheckDuration int

func init() {
	rootCmd.AddCommand(lineCheckCmd)
	lineCheckCmd.Flags().IntVar(&lineCheckDuration, "duration", 30, "Check duration in seconds")
}

// burst is a run of characters without a gap longer than one character time
type burst struct {
	start time.Duration
	gap   time.Duration
	data  []byte
}

// burstSplitter groups events into bursts
type burstSplitter struct {
	maxGap  time.Duration
	lastEnd time.Duration
	current *burst
}

// Add appends an event and returns the burst it closed, if any
func (b *burstSplitter) Add(ev iso7816.ByteEvent) *burst {
	var done *burst
	if b.current != nil && ev.Start-b.lastEnd > b.maxGap {
		done = b.current
		b.current = nil
	}
	if b.current == nil {
		b.current = &burst{start: ev.Start, gap: ev.Start - b.lastEnd}
	}
	b.current.data = append(b.current.data, ev.Value)
	b.lastEnd = ev.End
	return done
}

// Flush returns the open burst, if any
func (b *burstSplitter) Flush() *burst {
	done := b.current
	b.current = nil
	return done
}

func printBurst(b *burst, etu time.Duration) {
	fmt.Printf("[%s] +%6.0f etu  %3d bytes: % X\n",
		iso7816.FormatOffset(b.start), float64(b.gap)/float64(etu), len(b.data), b.data)
}

func runLineCheck(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Cardwatch - Line Check\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", lineCheckDuration)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(lineCheckDuration)*time.Second)
	defer cancel()

	params := iso7816.DefaultParams()
	params.Clock = cardClock
	etu := iso7816.ETU(params)
	splitter := &burstSplitter{maxGap: iso7816.CharacterWaitingTime(params)}

	bytesReceived := 0
	bursts := 0
	heartbeat := time.NewTicker(5 * time.Second)
	defer heartbeat.Stop()

	fmt.Printf("Listening for data...\n\n")

	events, errc := liveEvents(ctx, conn)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if b := splitter.Flush(); b != nil {
					printBurst(b, etu)
					bursts++
				}
				err := streamEnded(<-errc)
				if err == nil && ctx.Err() == nil {
					err = fmt.Errorf("connection closed")
				}

				fmt.Printf("\n--- Check Results ---\n")
				fmt.Printf("Bursts received: %d\n", bursts)
				fmt.Printf("Bytes received: %d\n", bytesReceived)
				if err != nil {
					fmt.Printf("Result: FAILED (%v)\n", err)
					os.Exit(1)
				}
				fmt.Printf("Result: PASSED (connection stable)\n")
				return nil
			}
			bytesReceived++
			if b := splitter.Add(ev); b != nil {
				printBurst(b, etu)
				bursts++
			}

		case <-heartbeat.C:
			// Just a heartbeat to show the check is running
			if deadline, ok := ctx.Deadline(); ok {
				fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
					time.Now().Format("15:04:05.000"), time.Until(deadline).Seconds())
			}
		}
	}
}
