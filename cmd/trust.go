package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dominikschlosser/dgc-verify/internal/output"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Inspect and refresh the trust-list store",
}

var trustShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the currently cached trust list",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline()
		if err != nil {
			return err
		}
		list, ok := p.TrustListSnapshot(context.Background())
		if !ok {
			return fmt.Errorf("no trust list cached; run 'trust refresh' first")
		}
		output.PrintTrustList(list, output.Options{JSON: jsonOutput, NoColor: noColor, Verbose: verbose})
		return nil
	},
}

var trustRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a trust-list refresh from --trustlist-url",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline()
		if err != nil {
			return err
		}
		if err := p.UpdateTrustlist(context.Background()); err != nil {
			return fmt.Errorf("refreshing trust list: %w", err)
		}
		fmt.Println("trust list refreshed")
		return nil
	},
}

func init() {
	trustCmd.AddCommand(trustShowCmd)
	trustCmd.AddCommand(trustRefreshCmd)
	rootCmd.AddCommand(trustCmd)
}
