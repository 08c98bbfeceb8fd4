// Command fulfilld is the reference deployment of the fulfillment dispatch
// pipeline: it serves an adapter's fulfillment endpoint behind the trust
// checkpoint, accepts payment lifecycle events from the marketplace core,
// and forwards due obligations through the run gate and dispatcher.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "fulfilld",
		Short:         "Order fulfillment dispatch daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newCallerCmd())
	root.AddCommand(newCredentialCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fulfilld:", err)
		os.Exit(1)
	}
}
