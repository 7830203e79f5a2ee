package main

import (
	"fmt"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/config"
	"github.com/spf13/cobra"
)

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Inspect genesis files",
}

var genesisValidateCmd = &cobra.Command{
	Use:   "validate <file or url>",
	Short: "Load and validate a genesis file without touching any store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		genesis, err := config.LoadGenesis(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "admin:        %s\n", genesis.Instantiate.Admin)
		fmt.Fprintf(out, "tokens:       %d\n", len(genesis.Tokens))
		fmt.Fprintf(out, "balances:     %d\n", len(genesis.Balances))
		fmt.Fprintf(out, "channels:     %d\n", len(genesis.Channels))
		fmt.Fprintf(out, "mappings:     %d\n", len(genesis.Mappings))
		fmt.Fprintf(out, "token fees:   %d\n", len(genesis.TokenFees))
		fmt.Fprintf(out, "relayer fees: %d\n", len(genesis.RelayerFees))
		return nil
	},
}

func init() {
	genesisCmd.AddCommand(genesisValidateCmd)
	rootCmd.AddCommand(genesisCmd)
}
