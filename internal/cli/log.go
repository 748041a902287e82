package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/promptshield/internal/audit"
)

var (
	logFilterAction string
	logFilterAgent  string
	logLast         int
	logSummary      bool
	logVerify       bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View, filter and verify the audit ledger",
	Long: `View the PromptShield audit ledger with filtering and summary options, or
verify its hash chain.

Examples:
  promptshield log                    # Show all entries
  promptshield log --last 20          # Show last 20 entries
  promptshield log --action block     # Show only blocked prompts
  promptshield log --agent ci-bot     # Show one agent's verdicts
  promptshield log --summary          # Show summary stats
  promptshield log --verify           # Check the hash chain`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterAction, "action", "", "Filter by action (allow, warn, modify, block)")
	logCmd.Flags().StringVar(&logFilterAgent, "agent", "", "Filter by agent ID")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	logCmd.Flags().BoolVar(&logVerify, "verify", false, "Verify the hash chain and exit")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Audit.Path == "" {
		return errors.New("no audit ledger path configured")
	}
	out := cmd.OutOrStdout()

	if logVerify {
		res := audit.Verify(cfg.Audit.Path)
		if !res.Valid {
			fmt.Fprintf(out, "❌ Chain broken at line %d: %s\n", res.ErrorLine, res.Error)
			return errors.New("audit ledger verification failed")
		}
		fmt.Fprintf(out, "✅ Chain intact: %d records\n", res.Lines)
		return nil
	}

	records, err := audit.Read(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("failed to read audit ledger: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No audit ledger entries found.")
		return nil
	}

	filtered := filterRecords(records, logFilterAction, logFilterAgent)
	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}

	if logSummary {
		printSummary(out, records)
		return nil
	}
	printRecords(out, filtered)
	return nil
}

func filterRecords(records []audit.Record, action, agent string) []audit.Record {
	if action == "" && agent == "" {
		return records
	}
	var filtered []audit.Record
	for _, r := range records {
		if action != "" && !strings.EqualFold(r.EventType, audit.EventType(strings.ToLower(action))) {
			continue
		}
		if agent != "" && r.Agent != agent {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func printRecords(out io.Writer, records []audit.Record) {
	for _, r := range records {
		action := strings.TrimPrefix(r.EventType, "security_")
		fmt.Fprintf(out, "%s %s %-6s sev=%-3d agent=%s\n",
			actionIcon(action), formatTimestamp(r.Timestamp), action, r.Severity, r.Agent)
		if r.Excerpt != "" {
			fmt.Fprintf(out, "     Prompt: %s\n", r.Excerpt)
		}
		if r.RequestID != "" {
			fmt.Fprintf(out, "     Request: %s\n", r.RequestID)
		}
		fmt.Fprintln(out)
	}
}

func printSummary(out io.Writer, records []audit.Record) {
	counts := map[string]int{}
	agents := map[string]int{}
	for _, r := range records {
		counts[strings.TrimPrefix(r.EventType, "security_")]++
		agents[r.Agent]++
	}

	fmt.Fprintln(out, "═══════════════════════════════════════════")
	fmt.Fprintln(out, "  PromptShield Audit Summary")
	fmt.Fprintln(out, "═══════════════════════════════════════════")
	fmt.Fprintf(out, "  Total events:    %d\n", len(records))
	fmt.Fprintf(out, "  Agents:          %d\n", len(agents))
	fmt.Fprintf(out, "  allow:           %d\n", counts["allow"])
	fmt.Fprintf(out, "  warn:            %d\n", counts["warn"])
	fmt.Fprintf(out, "  modify:          %d\n", counts["modify"])
	fmt.Fprintf(out, "  block:           %d\n", counts["block"])
	fmt.Fprintln(out, "═══════════════════════════════════════════")
	fmt.Fprintf(out, "  First event:     %s\n", formatTimestamp(records[0].Timestamp))
	fmt.Fprintf(out, "  Last event:      %s\n", formatTimestamp(records[len(records)-1].Timestamp))
	fmt.Fprintln(out)
}

func actionIcon(action string) string {
	switch action {
	case "block":
		return "🛑"
	case "warn", "modify":
		return "🔍"
	case "allow":
		return "✅"
	default:
		return "❓"
	}
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
