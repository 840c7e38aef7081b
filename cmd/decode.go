// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/Thermoquad/cardwatch/pkg/capture"
	"github.com/Thermoquad/cardwatch/pkg/iso7816"
	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode the card I/O line as it is sniffed",
	Long: `Continuously decode and display ISO 7816-3 traffic as it arrives.

Each decoded field (ATR characters, PPS bytes, APDU header and data, T=1 block
fields) is printed on its own line with its offset in seconds, raw bytes and
meaning. Records carrying an anomaly are highlighted.

Start the capture before the card is reset: decoding begins with the ATR.
Press Ctrl+C to stop; the message still being stored is decoded on exit.

Supports both serial and WebSocket connections.`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

// liveEvents reads conn in the background until ctx is done. The error channel
// receives the error that ended the stream once the event channel is closed.
// Cancelling ctx closes conn to unblock a pending read.
func liveEvents(ctx context.Context, conn Connection) (<-chan iso7816.ByteEvent, <-chan error) {
	events := make(chan iso7816.ByteEvent, 256)
	errc := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(events)
		defer close(done)
		err := capture.NewLiveSource(conn, baudRate).Run(ctx, events)
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		errc <- err
	}()
	return events, errc
}

// streamEnded reports how a live stream stopped, nil for a normal stop
func streamEnded(err error) error {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	case errors.Is(err, ErrConnectionClosed):
		log.Printf("Connection closed")
		return nil
	default:
		return fmt.Errorf("read error: %w", err)
	}
}

func runDecode(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := sessionConfig()
	printInfo("Cardwatch - Live Decode")
	printInfo("Connection: %s", connInfo)
	printInfo("EDC: %s, clock: %g Hz", cfg.EDC, cfg.Clock)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	session := iso7816.NewSession(cfg)
	events, errc := liveEvents(ctx, conn)

	for ev := range events {
		for _, r := range session.Feed(ev) {
			printRecord(r)
		}
	}
	for _, r := range session.Flush() {
		printRecord(r)
	}

	fmt.Println()
	printInfo("Final parameters: %s", iso7816.FormatParams(session.Params()))
	return streamEnded(<-errc)
}
