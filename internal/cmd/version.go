// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotandev/ilpatch/internal/patch"
)

var (
	// Version will be set by the main package
	Version = "dev"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: "utility",
	Short:   "Print the version number of ilpatch",
	Long:    `Display the CLI version, the patch engine version and the snapshot format it reads and writes.`,
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "ilpatch version %s\n", Version)
		fmt.Fprintf(w, "engine %s\n", patch.Version)
		fmt.Fprintf(w, "snapshot format %s (reads %s)\n", patch.SnapshotFormat, patch.SnapshotConstraint)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
