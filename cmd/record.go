// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/Thermoquad/cardwatch/pkg/capture"
	"github.com/Thermoquad/cardwatch/pkg/iso7816"
	"github.com/spf13/cobra"
)

var (
	recordOut    string
	recordQuiet  bool
	recordDecode bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Store the sniffed byte stream in a capture file",
	Long: `Record the card I/O line into a capture file for later analysis with replay.

Every byte is stored with its start and end offsets, so a replay decodes exactly
as the live session would. Capture files are CBOR sequences with the ` + capture.FileExt + `
extension.

Press Ctrl+C to stop recording.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "Capture file to write (default: cardwatch-<time>"+capture.FileExt+")")
	recordCmd.Flags().BoolVarP(&recordQuiet, "quiet", "q", false, "Do not print a dot per 100 bytes")
	recordCmd.Flags().BoolVar(&recordDecode, "decode", false, "Also print decoded records while recording")
}

func runRecord(cmd *cobra.Command, args []string) error {
	if recordOut == "" {
		recordOut = "cardwatch-" + time.Now().Format("20060102-150405") + capture.FileExt
	}
	if filepath.Ext(recordOut) == "" {
		recordOut += capture.FileExt
	}

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	f, err := os.Create(recordOut)
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	defer f.Close()

	w, err := capture.NewWriter(f, capture.Header{
		Source: connInfo,
		Baud:   baudRate,
		Clock:  cardClock,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	printInfo("Cardwatch - Record")
	printInfo("Connection: %s", connInfo)
	printInfo("Writing to %s", recordOut)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	var session *iso7816.Session
	if recordDecode {
		session = iso7816.NewSession(sessionConfig())
	}

	events, errc := liveEvents(ctx, conn)
	for ev := range events {
		if err := w.Write(ev); err != nil {
			return fmt.Errorf("failed to write capture: %w", err)
		}
		if session != nil {
			for _, r := range session.Feed(ev) {
				printRecord(r)
			}
		} else if !recordQuiet && w.Count()%100 == 0 {
			fmt.Print(".")
		}
	}
	if session != nil {
		for _, r := range session.Flush() {
			printRecord(r)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write capture: %w", err)
	}
	fmt.Println()
	printSuccess("Stored %d bytes in %s", w.Count(), recordOut)
	return streamEnded(<-errc)
}
