// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cil

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes a listing of instrs, one instruction per line, with
// attached labels and region markers on their own lines.
func Fprint(w io.Writer, instrs []*Instruction) error {
	for _, in := range instrs {
		for _, b := range in.Blocks {
			if !b.IsBegin() {
				continue
			}
			if _, err := fmt.Fprintf(w, "          .%s\n", b); err != nil {
				return err
			}
		}
		if len(in.Labels) > 0 {
			names := make([]string, len(in.Labels))
			for i, l := range in.Labels {
				names[i] = l.String()
			}
			if _, err := fmt.Fprintf(w, "%s:\n", strings.Join(names, ", ")); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "  %s\n", in); err != nil {
			return err
		}
		for _, b := range in.Blocks {
			if b.IsBegin() {
				continue
			}
			if _, err := fmt.Fprintf(w, "          .%s\n", b); err != nil {
				return err
			}
		}
	}
	return nil
}

// Format returns the listing produced by Fprint.
func Format(instrs []*Instruction) string {
	var b strings.Builder
	_ = Fprint(&b, instrs)
	return b.String()
}
