// Command wlscan parses Wayland protocol XML descriptions and either
// generates a Go source file of wire.Interface literals from them or lists
// the interfaces a protocol file declares.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wlscan",
		Short: "Scan Wayland protocol XML into wire.Interface descriptors",
	}
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newListInterfacesCmd())
	return root
}
