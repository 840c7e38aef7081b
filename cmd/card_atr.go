// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/Thermoquad/cardwatch/pkg/capture"
	"github.com/Thermoquad/cardwatch/pkg/iso7816"
	"github.com/ebfe/scard"
	"github.com/spf13/cobra"
)

var (
	cardReader string
	listOnly   bool
)

var cardATRCmd = &cobra.Command{
	Use:   "card_atr",
	Short: "Decode the ATR of a card in a PC/SC reader",
	Long: `Read the Answer-To-Reset of a card through PC/SC and decode it.

The ATR is fed to the decoder with the character timing of the default baud rate,
so the output matches what a sniffer would show for the same card. Without
--reader, the first reader with a card present is used.

Use --list to show the available readers.`,
	RunE: runCardATR,
}

func init() {
	rootCmd.AddCommand(cardATRCmd)
	cardATRCmd.Flags().StringVarP(&cardReader, "reader", "r", "", "PC/SC reader name")
	cardATRCmd.Flags().BoolVarP(&listOnly, "list", "l", false, "List readers and exit")
}

// atrEvents lays out ATR bytes back to back at the given baud rate
func atrEvents(atr []byte, baud int) []iso7816.ByteEvent {
	charTime := capture.CharacterTime(baud)
	events := make([]iso7816.ByteEvent, len(atr))
	for i, v := range atr {
		start := time.Duration(i) * charTime
		events[i] = iso7816.ByteEvent{Value: v, Start: start, End: start + charTime}
	}
	return events
}

// decodeATR decodes an ATR read from a reader. Readers report the ATR of an
// inverse convention card already decoded, starting with 3F, so it is put back in
// line form for TS to be recognized.
func decodeATR(atr []byte, cfg iso7816.Config) *atrCollector {
	line := atr
	if len(atr) > 0 && atr[0] == iso7816.Invert(iso7816.TSInverse) {
		line = make([]byte, len(atr))
		for i, v := range atr {
			line[i] = iso7816.Invert(v)
		}
	}

	c := newATRCollector(cfg)
	for _, ev := range atrEvents(line, 9600) {
		if c.Feed(ev) {
			break
		}
	}
	return c
}

func runCardATR(cmd *cobra.Command, args []string) error {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("failed to establish PC/SC context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return fmt.Errorf("failed to list readers: %w", err)
	}
	if len(readers) == 0 {
		return fmt.Errorf("no PC/SC reader found")
	}

	if listOnly {
		for i, r := range readers {
			fmt.Printf("%d: %s\n", i, r)
		}
		return nil
	}

	var card *scard.Card
	reader := cardReader
	if reader != "" {
		card, err = ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	} else {
		for _, r := range readers {
			if card, err = ctx.Connect(r, scard.ShareShared, scard.ProtocolAny); err == nil {
				reader = r
				break
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to card: %w", err)
	}
	defer card.Disconnect(scard.LeaveCard)

	status, err := card.Status()
	if err != nil {
		return fmt.Errorf("failed to read card status: %w", err)
	}

	printInfo("Reader: %s", reader)
	printInfo("ATR: % X", status.Atr)
	fmt.Println()

	c := decodeATR(status.Atr, sessionConfig())
	for _, r := range c.records {
		printRecord(r)
	}
	fmt.Println()

	if len(c.Bytes()) < len(status.Atr) {
		printWarning("%d bytes after the end of the ATR", len(status.Atr)-len(c.Bytes()))
	}
	if !c.Valid() {
		printWarning("ATR decoded with errors")
	} else {
		printSuccess("Parameters: %s", iso7816.FormatParams(c.session.Params()))
	}
	return nil
}
