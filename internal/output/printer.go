// Package output renders verification verdicts and store status to the
// terminal, colored or as JSON, in the source's printer idiom.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/dominikschlosser/dgc-verify/internal/rulesengine"
	"github.com/dominikschlosser/dgc-verify/internal/trust"
	"github.com/dominikschlosser/dgc-verify/internal/verdict"
)

// PrintJSON outputs v as indented JSON.
func PrintJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "JSON encoding error: %v\n", err)
	}
}

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	labelColor   = color.New(color.FgYellow)
	valueColor   = color.New(color.FgWhite)
	dimColor     = color.New(color.Faint)
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)

	timeNow = time.Now
)

// Options controls how a result is rendered.
type Options struct {
	JSON    bool
	NoColor bool
	Verbose bool
}

func relativeTime(t time.Time) string {
	d := t.Sub(timeNow())
	if d < 0 {
		return formatDuration(-d) + " ago"
	}
	return "in " + formatDuration(d)
}

func formatDuration(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d >= 60*day:
		return fmt.Sprintf("%d months", int(d/(30*day)))
	case d >= 2*day:
		return fmt.Sprintf("%d days", int(d/day))
	case d >= day:
		return "1 day"
	case d >= time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	default:
		return "1 minute"
	}
}

// BuildVerdictJSON returns the JSON-serializable projection of v.
func BuildVerdictJSON(v verdict.Verdict) map[string]any {
	out := map[string]any{"valid": v.Valid}
	if v.Error != verdict.None {
		out["error"] = string(v.Error)
	}
	if v.Cause != "" {
		out["cause"] = v.Cause
	}
	if v.Meta != nil {
		out["meta"] = map[string]any{
			"issuer": v.Meta.Issuer, "issuedAt": v.Meta.IssuedAt, "expiresAt": v.Meta.ExpiresAt,
		}
	}
	if v.Certificate != nil {
		out["certificate"] = map[string]any{
			"type": string(v.Certificate.Type),
			"name": fmt.Sprintf("%s %s", v.Certificate.Name.GivenNameTransliterated, v.Certificate.Name.FamilyNameTransliterated),
			"dob":  v.Certificate.DateOfBirth,
		}
	}
	return out
}

// PrintVerdict renders a verification verdict.
func PrintVerdict(v verdict.Verdict, opts Options) {
	if opts.JSON {
		PrintJSON(BuildVerdictJSON(v))
		return
	}

	headerColor.Println("DGC Verification Result")
	headerColor.Println(strings.Repeat("─", 50))

	if v.Valid {
		successColor.Println("  ✓ Valid")
	} else {
		errorColor.Printf("  ✗ Invalid: %s\n", v.Error)
		if v.Cause != "" {
			dimColor.Printf("    cause: %s\n", v.Cause)
		}
	}

	if v.Meta != nil {
		printSection("Issuer Metadata")
		printKV("Issuer", v.Meta.Issuer, 1)
		exp := time.Unix(v.Meta.ExpiresAt, 0).UTC()
		printKV("Expires", exp.Format(time.RFC3339)+dimColor.Sprintf(" (%s)", relativeTime(exp)), 1)
	}

	if v.Certificate != nil {
		printSection("Certificate")
		printKV("Type", string(v.Certificate.Type), 1)
		printKV("Name", fmt.Sprintf("%s %s", v.Certificate.Name.GivenNameTransliterated, v.Certificate.Name.FamilyNameTransliterated), 1)
		printKV("Date of Birth", v.Certificate.DateOfBirth, 1)
	}

	fmt.Println()
}

// BuildTrustListJSON returns the JSON-serializable projection of a list.
func BuildTrustListJSON(l trust.List) map[string]any {
	return map[string]any{
		"validFrom": l.ValidFrom, "validUntil": l.ValidUntil, "entryCount": len(l.Entries),
	}
}

// PrintTrustList renders trust-list status.
func PrintTrustList(l trust.List, opts Options) {
	if opts.JSON {
		PrintJSON(BuildTrustListJSON(l))
		return
	}
	headerColor.Println("Trust List")
	headerColor.Println(strings.Repeat("─", 50))
	printKV("Entries", fmt.Sprintf("%d", len(l.Entries)), 1)
	printKV("Valid From", time.Unix(l.ValidFrom, 0).UTC().Format(time.RFC3339), 1)
	printKV("Valid Until", time.Unix(l.ValidUntil, 0).UTC().Format(time.RFC3339), 1)
	fmt.Println()
}

// PrintRuleResults renders business-rule evaluation results.
func PrintRuleResults(results []rulesengine.RuleResult, opts Options) {
	if opts.JSON {
		PrintJSON(results)
		return
	}
	headerColor.Println("Business Rules")
	headerColor.Println(strings.Repeat("─", 50))
	for _, r := range results {
		switch r.Result {
		case rulesengine.ResultPassed:
			successColor.Printf("  ✓ %s\n", orDash(r.Rule))
		case rulesengine.ResultFailed:
			errorColor.Printf("  ✗ %s", orDash(r.Rule))
			if r.Details != "" {
				dimColor.Printf(" (%s)", r.Details)
			}
			fmt.Println()
		default:
			warnColor.Printf("  ? %s\n", orDash(r.Rule))
		}
	}
	fmt.Println()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printSection(title string) {
	fmt.Println()
	headerColor.Printf("┌ %s\n", title)
}

func printKV(key, value string, indent int) {
	prefix := strings.Repeat("  ", indent)
	labelColor.Printf("%s%s: ", prefix, key)
	valueColor.Println(value)
}
