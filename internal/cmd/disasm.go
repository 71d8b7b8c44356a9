// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dotandev/ilpatch/internal/cil"
	"github.com/dotandev/ilpatch/internal/patch"
)

var (
	disasmPatchedFlag bool
	disasmNoColorFlag bool
)

var (
	colorMethod = color.New(color.Bold, color.FgHiCyan).SprintFunc()
	colorOffset = color.New(color.Faint).SprintfFunc()
	colorOpCode = color.New(color.FgHiGreen).SprintFunc()
	colorLabel  = color.New(color.FgYellow).SprintFunc()
	colorBlock  = color.New(color.Bold, color.FgHiMagenta).SprintFunc()
)

var disasmCmd = &cobra.Command{
	Use:     "disasm [method...]",
	GroupID: "core",
	Short:   "List decoded method bodies of the sample program",
	Long: `Decodes sample methods and prints one instruction per line with its IL
offset, branch labels and exception region markers.

Methods are named in full (Sample.Calculator::Double(System.Int32)), as
Type::Method or by method name alone. Without arguments every method is
listed.

With --patched the sample patches are installed first and the composed
replacement of each patched method is listed instead.`,
	RunE: runDisasm,
}

func runDisasm(cmd *cobra.Command, args []string) error {
	if disasmNoColorFlag {
		color.NoColor = true
	}
	cfg := currentConfig()
	s, err := newSample(vmOptions(cfg)...)
	if err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		names = s.names()
	}

	replaced := map[*cil.Method]*patch.Generation{}
	if disasmPatchedFlag {
		engine, err := newEngine(s, cfg, "ilpatch.disasm")
		if err != nil {
			return err
		}
		defer engine.Close(cmd.Context())
		gens, err := s.apply(cmd.Context(), engine)
		if err != nil {
			return err
		}
		for _, g := range gens {
			replaced[g.Original] = g
		}
	}

	w := cmd.OutOrStdout()
	for i, name := range names {
		m, err := s.find(name)
		if err != nil {
			return err
		}
		target := m
		if g, ok := replaced[m]; ok {
			target = g.Replacement
		}
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := printMethod(w, s, target); err != nil {
			return err
		}
	}
	return nil
}

func printMethod(w io.Writer, s *sample, m *cil.Method) error {
	body, err := s.vm.Body(m)
	if err != nil {
		return err
	}
	instrs, err := s.vm.Disassemble(m)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, colorMethod(m.String()))
	fmt.Fprintf(w, "  .maxstack %d\n", body.MaxStack)
	for _, l := range body.Locals {
		fmt.Fprintf(w, "  .local %s\n", l)
	}
	printListing(w, instrs)
	return nil
}

// printListing is cil.Fprint with colors.
func printListing(w io.Writer, instrs []*cil.Instruction) {
	for _, in := range instrs {
		for _, b := range in.Blocks {
			if b.IsBegin() {
				fmt.Fprintf(w, "          %s\n", colorBlock("."+b.String()))
			}
		}
		if len(in.Labels) > 0 {
			names := make([]string, len(in.Labels))
			for i, l := range in.Labels {
				names[i] = l.String()
			}
			fmt.Fprintf(w, "%s\n", colorLabel(strings.Join(names, ", ")+":"))
		}
		line := "  " + colorOffset("IL_%04x:", in.Offset) + " " + colorOpCode(in.OpCode.Name)
		if in.Operand != nil {
			line += " " + cil.FormatOperand(in.Operand)
		}
		fmt.Fprintln(w, line)
		for _, b := range in.Blocks {
			if !b.IsBegin() {
				fmt.Fprintf(w, "          %s\n", colorBlock("."+b.String()))
			}
		}
	}
}

func init() {
	disasmCmd.Flags().BoolVar(&disasmPatchedFlag, "patched", false, "List composed replacements of patched methods")
	disasmCmd.Flags().BoolVar(&disasmNoColorFlag, "no-color", false, "Disable colored output")
	rootCmd.AddCommand(disasmCmd)
}
