package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wl-go/gowl/scanner"
)

func newListInterfacesCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "list-interfaces",
		Short: "List the interfaces and versions declared by a protocol XML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return fmt.Errorf("--input is required")
			}

			in, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("wlscan: opening %s: %w", input, err)
			}
			defer in.Close()

			proto, err := scanner.Parse(in)
			if err != nil {
				return fmt.Errorf("wlscan: parsing %s: %w", input, err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INTERFACE\tVERSION\tREQUESTS\tEVENTS")
			for _, iface := range proto.Interfaces {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", iface.Name, iface.Version, len(iface.Requests), len(iface.Events))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "path to the protocol XML file (required)")
	return cmd
}
