package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wl-go/gowl/scanner"
)

func newGenerateCmd() *cobra.Command {
	var input, output, pkg string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a Go source file of wire.Interface literals from a protocol XML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return fmt.Errorf("--input is required")
			}
			if pkg == "" {
				return fmt.Errorf("--package is required")
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

			out := os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("wlscan: creating %s: %w", output, err)
				}
				defer f.Close()
				out = f
			}

			if err := scanner.Generate(out, pkg, proto); err != nil {
				return fmt.Errorf("wlscan: generating %s: %w", output, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "path to the protocol XML file (required)")
	cmd.Flags().StringVar(&output, "output", "", "path to write generated Go source to (default: stdout)")
	cmd.Flags().StringVar(&pkg, "package", "", "package name for the generated file (required)")
	return cmd
}
