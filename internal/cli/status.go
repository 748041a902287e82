package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gzhole/promptshield/internal/audit"
	"github.com/gzhole/promptshield/internal/cache"
	"github.com/gzhole/promptshield/internal/config"
	"github.com/gzhole/promptshield/internal/policy"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show PromptShield status - config, policy, cache, audit ledger",
	Long: `Check the pieces a running server depends on: which config is in effect,
whether the policy source loads, whether the cache backend answers, and the
state of the audit ledger.

  promptshield status`,
	RunE: statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	printStatus(cmd.Context(), cmd.OutOrStdout(), cfg)
	return nil
}

func printStatus(ctx context.Context, out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out, "  PromptShield Status")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out)

	binPath, err := os.Executable()
	if err != nil {
		binPath = "unknown"
	}
	fmt.Fprintf(out, "  Binary:    %s (%s)\n", binPath, Version)
	fmt.Fprintf(out, "  Config:    %s\n", cfg.ConfigDir)
	fmt.Fprintf(out, "  Listen:    %s\n", cfg.Server.Addr)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Policy ────────────────────────────────────────────")
	engine := policy.NewEngine(cfg.Policy.Path)
	st := engine.Status()
	switch {
	case cfg.Policy.Path == "":
		fmt.Fprintf(out, "  ⬚  Using built-in policies (%d active)\n", st.Active)
	case st.State == policy.StateLoaded:
		fmt.Fprintf(out, "  ✅ %s: %d active (%s)\n", st.Source, st.Active, st.Hash)
	default:
		fmt.Fprintf(out, "  ❌ %s: fallback in force: %s\n", st.Source, st.Error)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Cache ─────────────────────────────────────────────")
	c, err := cache.New(cache.Options{
		Backend:       cfg.Cache.Backend,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		OpTimeout:     time.Second,
	}, zap.NewNop(), nil)
	if err != nil {
		fmt.Fprintf(out, "  ❌ %v\n", err)
	} else {
		if c.HealthCheck(ctx) {
			fmt.Fprintf(out, "  ✅ %s backend reachable\n", c.BackendName())
		} else {
			fmt.Fprintf(out, "  ⚠  %s backend unreachable, lookups will degrade to misses\n", c.BackendName())
		}
		_ = c.Close()
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Audit Ledger ──────────────────────────────────────")
	checkLedger(out, cfg)
	fmt.Fprintln(out)
}

func checkLedger(out io.Writer, cfg *config.Config) {
	if !cfg.Audit.Enabled {
		fmt.Fprintln(out, "  ⬚  Audit disabled")
		return
	}
	if cfg.Audit.Path == "" {
		fmt.Fprintln(out, "  ⬚  No audit ledger path configured")
		return
	}
	info, err := os.Stat(cfg.Audit.Path)
	if err != nil {
		fmt.Fprintf(out, "  ⬚  %s: no entries yet\n", cfg.Audit.Path)
		return
	}
	res := audit.Verify(cfg.Audit.Path)
	if res.Valid {
		fmt.Fprintf(out, "  ✅ %s: %d records, chain intact (%d KB)\n", cfg.Audit.Path, res.Lines, info.Size()/1024)
	} else {
		fmt.Fprintf(out, "  ❌ %s: chain broken at line %d\n", cfg.Audit.Path, res.ErrorLine)
	}
}
