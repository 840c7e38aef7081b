// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/cardwatch/pkg/capture"
	"github.com/Thermoquad/cardwatch/pkg/iso7816"
	"github.com/Thermoquad/cardwatch/pkg/transcript"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	replayTranscript bool
	replayTLV        bool
	replayErrorsOnly bool
	replayStats      bool
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Decode a capture file",
	Long: `Decode a stored capture of the card I/O line.

FILE is either a capture written by the record command (` + capture.FileExt + `) or an
async serial export of Saleae Logic (.csv). For Saleae exports without character
durations, --baud sets the character time.

The clock stored in a capture is used unless --clock is given.

With --transcript, T=0 traffic is shown as command/response pairs instead of
individual records; --tlv adds a BER-TLV dump of the response data.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVarP(&replayTranscript, "transcript", "t", false, "Print command/response transactions")
	replayCmd.Flags().BoolVar(&replayTLV, "tlv", false, "Decode response data as BER-TLV (with --transcript)")
	replayCmd.Flags().BoolVar(&replayErrorsOnly, "errors-only", false, "Print only records carrying an anomaly")
	replayCmd.Flags().BoolVar(&replayStats, "stats", false, "Print statistics at the end")
}

// replayResult is everything decoded from one capture
type replayResult struct {
	Header  capture.Header
	Records []iso7816.Record
	Trace   transcript.Trace
	Stats   *iso7816.Statistics
	Params  iso7816.Params
}

// decodeCapture runs a capture file through a fresh session
func decodeCapture(path string, cfg iso7816.Config) (*replayResult, error) {
	h, events, err := capture.Load(path, baudRate)
	if err != nil {
		return nil, err
	}
	if cfg.Clock == 0 {
		cfg.Clock = h.Clock
	}

	res := &replayResult{Header: h, Stats: iso7816.NewStatistics()}
	session := iso7816.NewSession(cfg)
	builder := transcript.NewBuilder()

	add := func(recs []iso7816.Record) {
		for _, r := range recs {
			res.Records = append(res.Records, r)
			res.Stats.Update(r)
			builder.Add(r)
		}
	}
	for _, ev := range events {
		add(session.Feed(ev))
	}
	add(session.Flush())
	builder.Flush()

	res.Trace = builder.Trace()
	res.Params = session.Params()
	return res, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg := sessionConfig()
	if !viper.IsSet("clock") {
		cfg.Clock = 0
	}

	res, err := decodeCapture(args[0], cfg)
	if err != nil {
		return err
	}

	printInfo("Cardwatch - Replay %s", args[0])
	if res.Header.Created.IsZero() {
		printInfo("Source: %s", res.Header.Source)
	} else {
		printInfo("Source: %s, recorded %s", res.Header.Source, res.Header.Created.Format("2006-01-02 15:04:05"))
	}
	fmt.Println()

	if replayTranscript {
		for i := range res.Trace {
			fmt.Print(res.Trace[i].Format(replayTLV))
		}
	} else {
		for _, r := range res.Records {
			if errs := iso7816.ValidateRecord(r); len(errs) > 0 {
				printValidationErrors(r, errs)
			} else if !replayErrorsOnly {
				printRecord(r)
			}
		}
	}

	fmt.Println()
	printInfo("Final parameters: %s", iso7816.FormatParams(res.Params))
	if replayStats {
		fmt.Println()
		fmt.Print(res.Stats.String())
	}

	if n := res.Stats.Errors(); n > 0 {
		printWarning("%d records carry an anomaly", n)
	} else {
		printSuccess("%d records decoded", res.Stats.TotalRecords)
	}
	return nil
}
