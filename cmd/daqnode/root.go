// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the release of daqnode.
const Version = "0.3.0"

var (
	rootCmd = &cobra.Command{
		Use:   "daqnode",
		Short: "DAQ buffer transport node",
		Long: fmt.Sprintf(`daqnode (v%s)

Streams pool buffers between two nodes over TCP with credit-based flow
control. Configuration comes from a YAML file, a .env file, DAQ_* environment
variables and flags, in increasing precedence.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of daqnode",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("daqnode v%s\n", Version)
		},
	}
)

func init() {
	rootCmd.AddCommand(versionCmd, serveCmd)
}
