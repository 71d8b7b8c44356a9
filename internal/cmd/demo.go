// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotandev/ilpatch/internal/config"
	"github.com/dotandev/ilpatch/internal/filelog"
	"github.com/dotandev/ilpatch/internal/journal"
	"github.com/dotandev/ilpatch/internal/logger"
	"github.com/dotandev/ilpatch/internal/patch"
)

var (
	demoSnapshotFlag string
	demoRestoreFlag  string
	demoUnpatchFlag  bool
)

var demoCmd = &cobra.Command{
	Use:     "demo",
	GroupID: "core",
	Short:   "Patch the sample program and show its behavior before and after",
	Long: `Runs the sample calculator, installs the sample patches and runs it again.

Double gets a prefix clamping its argument to 100 and a postfix counting
calls. SafeDivide gets a transpiler that logs on entry and the same
postfix.

With --restore the patches are read from a snapshot written earlier with
--snapshot instead of being registered in code.`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

// newEngine builds an engine on s wired to the configured debug log and
// journal.
func newEngine(s *sample, cfg *config.Config, id string) (*patch.Engine, error) {
	var opts []patch.Option
	if cfg.Debug {
		opts = append(opts, patch.WithTrace(filelog.New(cfg.DebugLogPath)))
	}
	if cfg.JournalPath != "" {
		store, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			patch.WithRecorder(store),
			patch.WithTeardown("journal", func(context.Context) error {
				return store.Close()
			}))
	}
	return patch.NewEngine(id, s.vm, opts...)
}

func runDemo(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := currentConfig()
	w := cmd.OutOrStdout()

	s, err := newSample(vmOptions(cfg)...)
	if err != nil {
		return err
	}
	engine, err := newEngine(s, cfg, "ilpatch.demo")
	if err != nil {
		return err
	}
	registerCloseHook("engine", engine)
	defer func() {
		if cerr := engine.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fmt.Fprintln(w, "Before patching:")
	if err := s.report(w); err != nil {
		return err
	}

	var gens []*patch.Generation
	if demoRestoreFlag != "" {
		data, rerr := os.ReadFile(demoRestoreFlag)
		if rerr != nil {
			return fmt.Errorf("failed to read snapshot: %w", rerr)
		}
		gens, err = engine.Restore(ctx, data, s.catalog())
	} else {
		gens, err = s.apply(ctx, engine)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	for _, g := range gens {
		printGeneration(w, g)
	}

	fmt.Fprintln(w, "\nAfter patching:")
	if err := s.report(w); err != nil {
		return err
	}
	for _, line := range s.traced() {
		fmt.Fprintf(w, "  trace: %s\n", line)
	}

	if demoSnapshotFlag != "" {
		data, serr := engine.Snapshot()
		if serr != nil {
			return serr
		}
		if werr := os.WriteFile(demoSnapshotFlag, data, 0o644); werr != nil {
			return fmt.Errorf("failed to write snapshot: %w", werr)
		}
		fmt.Fprintf(w, "\nSnapshot written to %s (%d bytes)\n", demoSnapshotFlag, len(data))
	}

	if demoUnpatchFlag {
		fmt.Fprintln(w)
		for _, m := range engine.PatchedMethods() {
			g, uerr := engine.Unpatch(ctx, m, patch.KindAll, "")
			if uerr != nil {
				return uerr
			}
			printGeneration(w, g)
		}
		fmt.Fprintln(w, "\nAfter unpatching:")
		if err := s.report(w); err != nil {
			return err
		}
	}

	logger.For("demo").Debug("demo finished", "generations", len(gens))
	return nil
}

// report runs the sample methods and prints their results and the
// audit counters.
func (s *sample) report(w io.Writer) error {
	calls := []struct {
		name string
		run  func() (any, error)
	}{
		{"Double(21)", func() (any, error) { return s.vm.Invoke(s.double, 21) }},
		{"Double(500)", func() (any, error) { return s.vm.Invoke(s.double, 500) }},
		{"SafeDivide(4)", func() (any, error) { return s.vm.Invoke(s.divide, 4) }},
		{"SafeDivide(0)", func() (any, error) { return s.vm.Invoke(s.divide, 0) }},
	}
	for _, c := range calls {
		got, err := c.run()
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		fmt.Fprintf(w, "  %-14s = %v\n", c.name, got)
	}
	fmt.Fprintf(w, "  audited calls  = %v (last %v)\n", s.vm.Static(s.calls), s.vm.Static(s.last))
	return nil
}

func printGeneration(w io.Writer, g *patch.Generation) {
	fmt.Fprintf(w, "Installed %s generation %d: 0x%x -> 0x%x (%d prefixes, %d postfixes, %d transpilers)\n",
		g.Original.FullName(), g.Number, g.From, g.To,
		len(g.Info.Prefixes), len(g.Info.Postfixes), len(g.Info.Transpilers))
}

func init() {
	demoCmd.Flags().StringVar(&demoSnapshotFlag, "snapshot", "", "Write the installed patch sets to this file")
	demoCmd.Flags().StringVar(&demoRestoreFlag, "restore", "", "Install patch sets from a snapshot file")
	demoCmd.Flags().BoolVar(&demoUnpatchFlag, "unpatch", false, "Remove every patch at the end")
	rootCmd.AddCommand(demoCmd)
}
