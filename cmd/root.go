// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/Thermoquad/cardwatch/pkg/iso7816"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Decoder flags
	edcMode   string
	cardClock float64
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "cardwatch",
	Short: "ISO 7816 smart card I/O line analyzer",
	Long: `Cardwatch - A CLI tool for decoding the I/O line between a smart card and its reader.

Decodes the Answer-To-Reset, PPS negotiation and the T=0 (APDU) or T=1 (block)
exchange from a sniffed serial line, and verifies TCK, PCK, LRC and CRC checksums.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

The sniffer sees the line as 8 data bits, even parity and 2 stop bits; the baud
rate is the card clock divided by Fi/Di (9600 for a 3.57 MHz clock before PPS).

Settings can also come from $HOME/.cardwatch/cardwatch.yaml or CARDWATCH_*
environment variables (CARDWATCH_PORT, CARDWATCH_EDC, ...).

For WebSocket authentication, the password is read from the CARDWATCH_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	PersistentPreRunE: bindConfig,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $HOME/.cardwatch/cardwatch.yaml)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Decoder flags
	rootCmd.PersistentFlags().StringVar(&edcMode, "edc", "na", "T=1 error detection code: lrc, crc or na")
	rootCmd.PersistentFlags().Float64Var(&cardClock, "clock", iso7816.DefaultClock, "Card clock frequency in Hz")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Trace decoder context changes to stderr")

	for _, name := range []string{"port", "baud", "url", "username", "no-ssl-verify", "edc", "clock", "verbose"} {
		cobra.CheckErr(viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)))
	}
}

func initConfig() {
	if configFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(configFile)
	} else {
		home, err := homedir.Dir()
		cobra.CheckErr(err)

		viper.AddConfigPath(filepath.Join(home, ".cardwatch"))
		viper.SetConfigName("cardwatch")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("cardwatch")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		}
	}
}

// bindConfig copies the merged flag, environment and file settings into the
// package variables used by the commands
func bindConfig(cmd *cobra.Command, args []string) error {
	portName = viper.GetString("port")
	baudRate = viper.GetInt("baud")
	wsURL = viper.GetString("url")
	wsUsername = viper.GetString("username")
	wsNoSSLVerify = viper.GetBool("no-ssl-verify")
	edcMode = viper.GetString("edc")
	cardClock = viper.GetFloat64("clock")
	verbose = viper.GetBool("verbose")

	switch strings.ToLower(edcMode) {
	case "lrc", "crc", "na":
	default:
		return fmt.Errorf("invalid --edc %q (use lrc, crc or na)", edcMode)
	}
	if cardClock <= 0 {
		return fmt.Errorf("invalid --clock %g", cardClock)
	}
	return nil
}

// sessionConfig builds the decoder configuration from the flags
func sessionConfig() iso7816.Config {
	cfg := iso7816.Config{
		EDC:   iso7816.ParseEDCMode(strings.ToLower(edcMode)),
		Clock: cardClock,
	}
	if verbose {
		cfg.Logger = log.New(os.Stderr, "[decoder] ", log.Lmicroseconds)
	}
	return cfg
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
