// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Thermoquad/cardwatch/pkg/iso7816"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze checksum failures and decoding anomalies",
	Long: `Track transmission errors and protocol anomalies on the card I/O line with statistics.

This command validates each decoded record and detects:
  - TCK, PCK, LRC and CRC checksum failures
  - PPS answers that do not confirm the request
  - T=0 messages that fit no APDU case (the decoder resynchronizes)
  - Unknown instruction codes and status words
  - Malformed interface bytes (RFU Fi/Di codes)
  - Statistics and trends (record rate, error rate, status word counts)

By default, only errors are displayed. Use --show-all to display valid records too.

Records are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all records (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if useTUI {
		return runTUIMode(ctx, conn, connInfo)
	}
	return runTextMode(ctx, conn, connInfo)
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(ctx context.Context, conn Connection, connInfo string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Create TUI program
	m := initialModel(connInfo, statsInterval, showAll)
	p := tea.NewProgram(m)

	// Decoder goroutine
	go func() {
		session := iso7816.NewSession(sessionConfig())
		events, errc := liveEvents(ctx, conn)

		send := func(recs []iso7816.Record) {
			for _, r := range recs {
				p.Send(recordMsg{
					record:           r,
					validationErrors: iso7816.ValidateRecord(r),
					context:          session.Context(),
					params:           session.Params(),
				})
			}
		}
		for ev := range events {
			send(session.Feed(ev))
		}
		send(session.Flush())
		p.Send(streamEndMsg{err: streamEnded(<-errc)})
	}()

	// Run TUI
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(ctx context.Context, conn Connection, connInfo string) error {
	printInfo("Cardwatch - Error Detection Mode")
	printInfo("Connection: %s", connInfo)
	printInfo("Statistics interval: %d seconds", statsInterval)
	if showAll {
		printInfo("Mode: All records")
	} else {
		printInfo("Mode: Errors only")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	session := iso7816.NewSession(sessionConfig())
	stats := iso7816.NewStatistics()

	// Statistics ticker
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	handle := func(recs []iso7816.Record) {
		for _, r := range recs {
			stats.Update(r)

			// Print record or error based on mode
			if validationErrors := iso7816.ValidateRecord(r); len(validationErrors) > 0 {
				printValidationErrors(r, validationErrors)
			} else if r.Title == iso7816.TitleATR && r.Field == "TS" {
				// Always print the start of an ATR (card reset)
				printRecord(r)
			} else if showAll {
				printRecord(r)
			}
		}
	}

	events, errc := liveEvents(ctx, conn)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				handle(session.Flush())
				fmt.Println()
				fmt.Print(stats.String())
				return streamEnded(<-errc)
			}
			handle(session.Feed(ev))

		case <-statsTicker.C:
			// Print statistics
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
