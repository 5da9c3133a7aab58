// Copyright 2025 Dominik Schlosser
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	noColor    bool
	verbose    bool

	trustlistURL, trustlistSigURL, trustlistAnchor string
	rulesURL, rulesSigURL, rulesAnchor             string
	valueSetsURL, valueSetsSigURL, valueSetsAnchor string
	strictIssuedAt                                 bool
)

var rootCmd = &cobra.Command{
	Use:   "dgc-verify",
	Short: "Verify EU Digital Green Certificates (EHN/DGC health certificates)",
	Long:  "A local-first CLI for decoding and verifying EU Digital Green Certificates: Base45/gzip/CBOR/COSE_Sign1 decoding, trust-list lookup, signature verification, and business-rules evaluation.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.PersistentFlags().StringVar(&trustlistURL, "trustlist-url", "", "Trust-list bundle URL")
	rootCmd.PersistentFlags().StringVar(&trustlistSigURL, "trustlist-signature-url", "", "Trust-list manifest/signature URL")
	rootCmd.PersistentFlags().StringVar(&trustlistAnchor, "trustlist-anchor", "", "Trust-list anchor certificate (PEM or base64 DER)")

	rootCmd.PersistentFlags().StringVar(&rulesURL, "rules-url", "", "Business-rules bundle URL")
	rootCmd.PersistentFlags().StringVar(&rulesSigURL, "rules-signature-url", "", "Business-rules manifest/signature URL")
	rootCmd.PersistentFlags().StringVar(&rulesAnchor, "rules-anchor", "", "Business-rules anchor certificate")

	rootCmd.PersistentFlags().StringVar(&valueSetsURL, "valuesets-url", "", "Value-sets bundle URL")
	rootCmd.PersistentFlags().StringVar(&valueSetsSigURL, "valuesets-signature-url", "", "Value-sets manifest/signature URL")
	rootCmd.PersistentFlags().StringVar(&valueSetsAnchor, "valuesets-anchor", "", "Value-sets anchor certificate")

	rootCmd.PersistentFlags().BoolVar(&strictIssuedAt, "strict-issued-at", false, "Reject certificates whose issued-at is in the future")
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
