package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/host"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/relay"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/rpc"
	sqsquery "github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/sqs_query"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var log zerolog.Logger

var (
	configFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Spectra ICS20 bridge",
	Long: `bridge runs the ICS20 token bridge: it receives fungible token packets from
counterparty chains, mints or releases the mapped local asset, and sends tokens
back over the channel they arrived on.`,
	Version: "1.0.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	},
}

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	setLoggers(zerolog.New(out).With().Timestamp().Logger())

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "toml config file, BRIDGE_* environment variables are used when empty")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// setLoggers shares l with every package
func setLoggers(l zerolog.Logger) {
	log = l
	rpc.SetLogger(l)
	host.SetLogger(l)
	relay.SetLogger(l)
	fees.SetLogger(l)
	sqsquery.SetLogger(l)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
