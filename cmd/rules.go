package main

import (
	"fmt"
	"sort"

	"github.com/SamuelRCrider/piiscan"
	"github.com/SamuelRCrider/piiscan/core"
	"github.com/SamuelRCrider/piiscan/rules"
	"github.com/spf13/cobra"
)

func newRulesCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and export classification rulesets",
	}
	cmd.AddCommand(newRulesValidateCmd(global), newRulesExportCmd())
	return cmd
}

func newRulesValidateCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a ruleset and print its version, hash and pattern counts",
		Long:  "Validate a ruleset file. Without a path the --rules flag is used, then the embedded default ruleset.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := global.rulesPath
			if len(args) == 1 {
				path = args[0]
			}

			lib, err := piiscan.LoadLibrary(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			source := path
			if source == "" {
				source = "embedded default"
			}
			fmt.Fprintf(out, "ruleset:  %s\n", source)
			fmt.Fprintf(out, "version:  %s\n", lib.Version())
			fmt.Fprintf(out, "hash:     %s\n", lib.Hash())
			fmt.Fprintf(out, "patterns: %d\n", lib.PatternCount())
			for _, line := range methodCounts(lib) {
				fmt.Fprintf(out, "  %s\n", line)
			}
			return nil
		},
	}
}

func newRulesExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write the embedded default ruleset to a file as a starting point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := core.ParseRuleset(rules.DefaultRuleset)
			if err != nil {
				return err
			}
			if err := core.SaveRuleset(rs, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote ruleset %s to %s\n", rs.Metadata.Version, args[0])
			return nil
		},
	}
}

// methodCounts lists "kind: n" lines in a stable order
func methodCounts(lib *core.PatternLibrary) []string {
	counts := map[string]int{
		"regex":   len(lib.RegexPatterns()),
		"fuzzy":   len(lib.Anchors()),
		"context_keywords": len(lib.ContextKeywords()),
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %d", k, counts[k]))
	}
	return lines
}
