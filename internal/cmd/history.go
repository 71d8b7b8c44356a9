// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotandev/ilpatch/internal/journal"
	"github.com/dotandev/ilpatch/internal/patch"
)

var (
	historyMethodFlag string
	historyEngineFlag string
	historyOwnerFlag  string
	historyLimitFlag  int
	historyHooksFlag  bool
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "utility",
	Short:   "List journaled patch generations",
	Long: `Lists the generations recorded in the journal, newest first.

The journal is the file named by --journal or journal_path in the
configuration, defaulting to ~/.ilpatch/journal.db.

Example:
  ilpatch history --owner '^sample\.' --hooks`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, _ []string) error {
	store, err := journal.Open(currentConfig().JournalPath)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer store.Close()

	entries, err := store.Search(cmd.Context(), journal.Query{
		Method:     historyMethodFlag,
		Engine:     historyEngineFlag,
		OwnerRegex: historyOwnerFlag,
		Limit:      historyLimitFlag,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No generations recorded.")
		return nil
	}
	fmt.Fprintf(w, "%-4s %-19s %-16s %-44s %s\n", "GEN", "INSTALLED", "ENGINE", "METHOD", "OWNERS")
	for _, e := range entries {
		fmt.Fprintf(w, "%-4d %-19s %-16s %-44s %s\n",
			e.Generation,
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Engine,
			e.Method,
			strings.Join(e.Owners, ","))
		if historyHooksFlag {
			printHooks(w, e)
		}
	}
	return nil
}

// printHooks lists the patch set recorded with e.
func printHooks(w io.Writer, e journal.Entry) {
	if len(e.Snapshot) == 0 {
		return
	}
	s, err := patch.UnmarshalSnapshot(e.Snapshot)
	if err != nil {
		fmt.Fprintf(w, "     (snapshot unreadable: %v)\n", err)
		return
	}
	for _, ms := range s.Methods {
		for _, l := range []struct {
			kind  string
			hooks []patch.PatchSnapshot
		}{
			{"prefix", ms.Prefixes},
			{"postfix", ms.Postfixes},
			{"transpiler", ms.Transpilers},
		} {
			for _, h := range l.hooks {
				fmt.Fprintf(w, "     %-10s %s (owner %s, priority %d)\n", l.kind, h.Hook, h.Owner, h.Priority)
			}
		}
	}
}

func init() {
	historyCmd.Flags().StringVar(&historyMethodFlag, "method", "", "Only this original method (full name)")
	historyCmd.Flags().StringVar(&historyEngineFlag, "engine", "", "Only generations installed by this engine")
	historyCmd.Flags().StringVar(&historyOwnerFlag, "owner", "", "Only generations with an owner matching this regular expression")
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "Maximum number of generations to list")
	historyCmd.Flags().BoolVar(&historyHooksFlag, "hooks", false, "Show the hooks of each generation")
	rootCmd.AddCommand(historyCmd)
}
