package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the business-rules store",
}

var rulesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a business-rules bundle refresh from --rules-url",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline()
		if err != nil {
			return err
		}
		if err := p.UpdateBusinessRules(context.Background()); err != nil {
			return fmt.Errorf("refreshing business rules: %w", err)
		}
		fmt.Println("business rules refreshed")
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesRefreshCmd)
	rootCmd.AddCommand(rulesCmd)
}
