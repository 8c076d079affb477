// Package main provides capforge-cli, the operator command-line tool for
// validating configs and inspecting a capability catalog.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forge-labs/capforge"
	"github.com/forge-labs/capforge/capability"
	"github.com/forge-labs/capforge/internal/version"
	"github.com/forge-labs/capforge/plugin"

	// Register built-in plugins so they appear in `capforge-cli plugins`.
	_ "github.com/forge-labs/capforge/internal/plugins/cache"
	_ "github.com/forge-labs/capforge/internal/plugins/logger"
	_ "github.com/forge-labs/capforge/internal/plugins/maxtoken"
	_ "github.com/forge-labs/capforge/internal/plugins/ratelimit"
	_ "github.com/forge-labs/capforge/internal/plugins/wordfilter"
)

func main() {
	root := &cobra.Command{
		Use:   "capforge-cli",
		Short: "Operator CLI for the capforge self-evolving capability runtime",
	}

	root.AddCommand(newValidateCmd())
	root.AddCommand(newCatalogCmd())
	root.AddCommand(newPluginsCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a runtime configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := capforge.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := capforge.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			fmt.Println("config is valid")
			fmt.Printf("  catalog root: %s\n", cfg.Catalog.Root)
			fmt.Printf("  strategy:     %s\n", cfg.LLM.Strategy.Mode)
			fmt.Printf("  backends:     %d\n", len(cfg.LLM.Backends))
			fmt.Printf("  plugins:      %d\n", len(cfg.Plugins))
			return nil
		},
	}
}

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect or mutate a capability catalog",
	}
	cmd.AddCommand(newCatalogListCmd())
	cmd.AddCommand(newCatalogDeprecateCmd())
	cmd.AddCommand(newCatalogPromoteCmd())
	return cmd
}

func newCatalogListCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every capability in the catalog",
		RunE: func(_ *cobra.Command, _ []string) error {
			cat, err := capability.Load(root)
			if err != nil {
				return fmt.Errorf("loading catalog: %w", err)
			}
			for _, c := range cat.All() {
				fmt.Printf("%-30s %-12s %s\n", c.ID, c.Status, c.Summary)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "catalog root directory")
	return cmd
}

func newCatalogDeprecateCmd() *cobra.Command {
	var root, reason string
	cmd := &cobra.Command{
		Use:   "deprecate <capability-id>",
		Short: "Mark a capability deprecated",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cat, err := capability.Load(root)
			if err != nil {
				return fmt.Errorf("loading catalog: %w", err)
			}
			if err := cat.MarkDeprecated(args[0], reason); err != nil {
				return fmt.Errorf("marking deprecated: %w", err)
			}
			fmt.Printf("%s marked deprecated\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "catalog root directory")
	cmd.Flags().StringVar(&reason, "reason", "", "deprecation reason")
	return cmd
}

func newCatalogPromoteCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "promote <capability-id>",
		Short: "Promote a legacy capability's recorded successor to definitive",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cat, err := capability.Load(root)
			if err != nil {
				return fmt.Errorf("loading catalog: %w", err)
			}
			successor, err := cat.PromoteSuccessor(args[0])
			if err != nil {
				return fmt.Errorf("promoting successor: %w", err)
			}
			fmt.Printf("%s's successor %s confirmed active\n", args[0], successor.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "catalog root directory")
	return cmd
}

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List registered tool-call pipeline plugins",
		RunE: func(_ *cobra.Command, _ []string) error {
			names := plugin.RegisteredPlugins()
			if len(names) == 0 {
				fmt.Println("no plugins registered")
				return nil
			}
			for _, name := range names {
				factory, _ := plugin.GetFactory(name)
				p := factory()
				fmt.Printf("%-20s type=%s\n", name, p.Type())
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Printf("capforge-cli %s\n", version.String())
			return nil
		},
	}
}
