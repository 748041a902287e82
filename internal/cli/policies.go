package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gzhole/promptshield/internal/cache"
	"github.com/gzhole/promptshield/internal/policy"
)

var (
	policiesValidate  bool
	policiesFromCache bool
	policiesJSON      bool
)

var policiesCmd = &cobra.Command{
	Use:   "policies [path]",
	Short: "List or validate policies",
	Long: `Show the active policy set in evaluation order, validate a policy file or
pack directory, or read the set last published to the shared cache by a
running server.

Examples:
  promptshield policies                          # Active set from config
  promptshield policies --validate ./policies.yaml
  promptshield policies --from-cache             # What the fleet is enforcing
  promptshield policies packs list`,
	Args: cobra.MaximumNArgs(1),
	RunE: policiesCommand,
}

var packsCmd = &cobra.Command{
	Use:   "packs",
	Short: "Manage policy packs in a policy directory",
	Long: `A policy pack is one YAML file inside the policy directory. Packs whose file
name starts with "_" are disabled.`,
}

var packsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policy packs",
	RunE:  packsList,
}

var packsEnableCmd = &cobra.Command{
	Use:   "enable <pack-name>",
	Short: "Enable a disabled pack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return packsToggle(cmd, args[0], true)
	},
}

var packsDisableCmd = &cobra.Command{
	Use:   "disable <pack-name>",
	Short: "Disable a pack (prefix with underscore)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return packsToggle(cmd, args[0], false)
	},
}

func init() {
	policiesCmd.Flags().BoolVar(&policiesValidate, "validate", false, "Validate the policy source and exit")
	policiesCmd.Flags().BoolVar(&policiesFromCache, "from-cache", false, "Read the set published to the shared cache")
	policiesCmd.Flags().BoolVar(&policiesJSON, "json", false, "Print JSON instead of a table")
	packsCmd.AddCommand(packsListCmd, packsEnableCmd, packsDisableCmd)
	policiesCmd.AddCommand(packsCmd)
	rootCmd.AddCommand(policiesCmd)
}

func policiesCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	source := cfg.Policy.Path
	if len(args) == 1 {
		source = args[0]
	}
	out := cmd.OutOrStdout()

	if policiesValidate {
		return validatePolicies(out, source)
	}

	var (
		status   policy.Status
		policies []policy.Policy
	)
	if policiesFromCache {
		c, err := cache.New(cache.Options{
			Backend:       cfg.Cache.Backend,
			RedisAddr:     cfg.Cache.RedisAddr,
			RedisPassword: cfg.Cache.RedisPassword,
			RedisDB:       cfg.Cache.RedisDB,
			OpTimeout:     time.Second,
		}, zap.NewNop(), nil)
		if err != nil {
			return err
		}
		defer c.Close()
		snap, ok := policy.ReadPublished(cmd.Context(), c)
		if !ok {
			return errors.New("no policy set published in the cache")
		}
		status, policies = snap.Status, snap.Policies
	} else {
		engine := policy.NewEngine(source)
		status, policies = engine.Status(), engine.Policies()
	}

	if policiesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Status   policy.Status   `json:"status"`
			Policies []policy.Policy `json:"policies"`
		}{status, policies})
	}
	printPolicies(out, status, policies)
	return nil
}

func validatePolicies(out io.Writer, source string) error {
	if source == "" {
		fmt.Fprintln(out, "No policy source configured; the built-in set is always valid.")
		return nil
	}
	policies, hash, err := policy.LoadWithHash(source)
	if err != nil {
		fmt.Fprintf(out, "❌ %s is invalid:\n", source)
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(out, "   - %s\n", line)
		}
		return fmt.Errorf("policy validation failed")
	}
	fmt.Fprintf(out, "✅ %s: %d policies valid (%s)\n", source, len(policies), hash)
	return nil
}

func printPolicies(out io.Writer, status policy.Status, policies []policy.Policy) {
	fmt.Fprintf(out, "Source: %s\nState:  %s\n", status.Source, status.State)
	if status.Hash != "" {
		fmt.Fprintf(out, "Hash:   %s\n", status.Hash)
	}
	if status.Error != "" {
		fmt.Fprintf(out, "Error:  %s\n", status.Error)
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PRIORITY\tNAME\tSEVERITY\tACTION\tCONDITIONS")
	for _, p := range policies {
		conds := make([]string, len(p.Conditions))
		for i, c := range p.Conditions {
			conds[i] = c.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			p.Priority, p.Name, p.Severity, p.Actions[0].Type, strings.Join(conds, " AND "))
	}
	_ = tw.Flush()
}

// packsDir resolves the configured policy directory.
func packsDir() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	dir := cfg.Policy.Path
	if dir == "" {
		return "", errors.New("policy.path is not set; point it at a policy directory to use packs")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is a file, not a pack directory", dir)
	}
	return dir, nil
}

func packsList(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}
	infos, err := policy.ListPacks(dir)
	if err != nil {
		return fmt.Errorf("failed to list packs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintf(out, "No policy packs in %s\n", dir)
		return nil
	}
	for _, info := range infos {
		mark := "✅"
		if !info.Enabled {
			mark = "⬚ "
		}
		if info.Error != "" {
			mark = "❌"
		}
		fmt.Fprintf(out, "  %s %-28s %d policies\n", mark, info.Name, info.Policies)
		if info.Error != "" {
			fmt.Fprintf(out, "       %s\n", info.Error)
		}
	}
	return nil
}

func packsToggle(cmd *cobra.Command, name string, enable bool) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}
	if err := togglePack(dir, name, enable); err != nil {
		return err
	}
	state := "disabled"
	if enable {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pack %q %s. A running server with policy.watch picks this up automatically.\n", name, state)
	return nil
}

// togglePack renames <name>.yaml to _<name>.yaml or back. .yml files are
// handled the same way.
func togglePack(dir, name string, enable bool) error {
	name = strings.TrimPrefix(name, "_")
	for _, ext := range []string{".yaml", ".yml"} {
		enabledPath := filepath.Join(dir, name+ext)
		disabledPath := filepath.Join(dir, "_"+name+ext)

		from, to := disabledPath, enabledPath
		if !enable {
			from, to = enabledPath, disabledPath
		}
		if _, err := os.Stat(to); err == nil {
			return nil
		}
		if _, err := os.Stat(from); err == nil {
			return os.Rename(from, to)
		}
	}
	return fmt.Errorf("pack %q not found in %s", name, dir)
}

