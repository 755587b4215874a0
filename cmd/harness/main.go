// Command harness is the workspace CLI: it resolves a gateway for the
// current workspace (or a named side-session), drives its lifecycle,
// and issues one-off commands against it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var sessionFlag string

func main() {
	root := &cobra.Command{
		Use:   "harness",
		Short: "workspace-local AI coding session gateway",
	}
	root.PersistentFlags().StringVar(&sessionFlag, "session", "", "named side-session (default: unnamed gateway)")

	root.AddCommand(
		gatewayCmd(),
		profileCmd(),
		statusTimelineCmd(),
		renderTraceCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
