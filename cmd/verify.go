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
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dominikschlosser/dgc-verify/internal/output"
	"github.com/dominikschlosser/dgc-verify/internal/pipeline"
)

var withRules bool
var country string

var certFetchClient = &http.Client{
	Timeout: 15 * time.Second,
}

// readCertificate resolves the verify command's positional argument to the
// raw HC1: certificate string: "-" or empty reads stdin, an http(s) URL is
// fetched, an existing file path is read, and anything else is treated as
// the certificate string itself (the pipeline, not this function, is what
// rejects a missing "HC1:" prefix).
func readCertificate(input string) (string, error) {
	input = strings.TrimSpace(input)

	if input == "-" || input == "" {
		stat, err := os.Stdin.Stat()
		if err != nil {
			return "", fmt.Errorf("cannot read stdin: %w", err)
		}
		if (stat.Mode() & os.ModeCharDevice) != 0 {
			return "", fmt.Errorf("no certificate provided (use a file path, URL, HC1: string, or pipe to stdin)")
		}
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	if strings.HasPrefix(input, "https://") || strings.HasPrefix(input, "http://") {
		return fetchCertificateURL(input)
	}

	if _, err := os.Stat(input); err == nil {
		b, err := os.ReadFile(input)
		if err != nil {
			return "", fmt.Errorf("reading file %s: %w", input, err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	return input, nil
}

func fetchCertificateURL(url string) (string, error) {
	resp, err := certFetchClient.Get(url)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: HTTP %d", url, resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response from %s: %w", url, err)
	}

	return strings.TrimSpace(string(b)), nil
}

var verifyCmd = &cobra.Command{
	Use:   "verify <input>",
	Short: "Decode and verify a Digital Green Certificate",
	Long:  "Decodes an HC1: certificate string (from a file, URL, stdin, or given directly) and runs the full verification pipeline: Base45/gzip/CBOR/COSE decoding, temporal validity, trust-list lookup, and signature verification.",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().BoolVar(&withRules, "with-rules", false, "Also evaluate business rules against the decoded certificate")
	verifyCmd.Flags().StringVar(&country, "country", "", "Country code used for business-rule evaluation (requires --with-rules)")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	encoded, err := readCertificate(args[0])
	if err != nil {
		return fmt.Errorf("reading certificate: %w", err)
	}

	p, err := buildPipeline()
	if err != nil {
		return err
	}

	ctx := context.Background()
	v := p.Verify(ctx, encoded)
	opts := output.Options{JSON: jsonOutput, NoColor: noColor, Verbose: verbose}
	output.PrintVerdict(v, opts)

	if withRules && v.Certificate != nil && v.Meta != nil {
		now := time.Now()
		issuedAt := time.Unix(v.Meta.IssuedAt, 0)
		expiresAt := time.Unix(v.Meta.ExpiresAt, 0)
		results := p.EvaluateRules(ctx, *v.Certificate, now, issuedAt, expiresAt, country)
		output.PrintRuleResults(results, opts)
	}

	if !v.Valid {
		os.Exit(1)
	}
	return nil
}

func buildPipeline() (*pipeline.Pipeline, error) {
	cfg := pipeline.Config{
		TrustlistURL:          trustlistURL,
		TrustlistSignatureURL: trustlistSigURL,
		TrustlistAnchor:       trustlistAnchor,

		BusinessRulesURL:          rulesURL,
		BusinessRulesSignatureURL: rulesSigURL,
		BusinessRulesAnchor:       rulesAnchor,

		ValueSetsURL:          valueSetsURL,
		ValueSetsSignatureURL: valueSetsSigURL,
		ValueSetsAnchor:       valueSetsAnchor,

		StrictIssuedAt: strictIssuedAt,
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("constructing pipeline: %w", err)
	}
	return p, nil
}
