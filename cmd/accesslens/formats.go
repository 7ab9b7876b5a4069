package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinytelemetry/accesslens/internal/logparse"
)

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the predefined log formats",
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			formats := logparse.PredefinedFormats()
			for _, name := range logparse.PredefinedNames() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", name, formats[name])
			}
		},
	}
}
