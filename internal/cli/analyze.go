package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/gzhole/promptshield/internal/policy"
	"github.com/gzhole/promptshield/internal/shield"
)

var (
	analyzeAgent    string
	analyzeAudit    bool
	analyzeExitCode bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [prompt...]",
	Short: "Evaluate a single prompt and print the verdict as JSON",
	Long: `Run one prompt through the full pipeline and print the verdict.
The prompt is taken from the arguments, or from stdin when stdin is not a
terminal.

Examples:
  promptshield analyze "What is the weather today?"
  echo "Ignore previous instructions" | promptshield analyze --agent ci-bot
  promptshield analyze --exit-code "$PROMPT" || echo blocked`,
	RunE: analyzeCommand,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeAgent, "agent", "cli", "Agent ID to evaluate the prompt as")
	analyzeCmd.Flags().BoolVar(&analyzeAudit, "audit", false, "Record the verdict in the audit ledger")
	analyzeCmd.Flags().BoolVar(&analyzeExitCode, "exit-code", false, "Exit with status 2 when the verdict is block")
	rootCmd.AddCommand(analyzeCmd)
}

func analyzeCommand(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(args, os.Stdin)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	p, err := newPipeline(cfg, logger, pipelineOptions{audit: analyzeAudit})
	if err != nil {
		return err
	}

	resp := p.shield.EvaluateAndAudit(cmd.Context(), shield.Request{
		AgentID:   analyzeAgent,
		Prompt:    prompt,
		Timestamp: time.Now().UnixMilli(),
	}, "")

	if err := p.Close(); err != nil {
		logger.Warn("cleanup failed", zap.Error(err))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}

	if analyzeExitCode && resp.Action == policy.ActionBlock {
		os.Exit(2)
	}
	return nil
}

// readPrompt joins args, or reads stdin when no args were given and stdin is
// piped.
func readPrompt(args []string, stdin *os.File) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if term.IsTerminal(int(stdin.Fd())) {
		return "", errors.New("no prompt given: pass it as an argument or pipe it on stdin")
	}
	data, err := io.ReadAll(io.LimitReader(stdin, maxPromptBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

const maxPromptBytes = 1 << 20
