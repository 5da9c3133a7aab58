package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var valueSetsCmd = &cobra.Command{
	Use:   "valuesets",
	Short: "Manage the value-sets store",
}

var valueSetsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a value-sets bundle refresh from --valuesets-url",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline()
		if err != nil {
			return err
		}
		if err := p.UpdateValueSets(context.Background()); err != nil {
			return fmt.Errorf("refreshing value sets: %w", err)
		}
		fmt.Println("value sets refreshed")
		return nil
	},
}

func init() {
	valueSetsCmd.AddCommand(valueSetsRefreshCmd)
	rootCmd.AddCommand(valueSetsCmd)
}
