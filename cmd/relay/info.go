package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tailored-agentic-units/relay/hostinfo"
)

func newInfoCmd() *cobra.Command {
	var showOS, showCPU, showHostname, showRuntime bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show host information",
		Long:  "info prints facts about this host. With no flags every fact is shown.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var keys []string
			for key, enabled := range map[string]bool{
				"os":       showOS,
				"cpu":      showCPU,
				"hostname": showHostname,
				"go":       showRuntime,
			} {
				if enabled {
					keys = append(keys, key)
				}
			}

			providers, err := hostinfo.Select(keys...)
			if err != nil {
				return err
			}
			for _, info := range hostinfo.Collect(providers) {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), info); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showOS, "os", false, "Show OS info")
	cmd.Flags().BoolVar(&showCPU, "cpu", false, "Show CPU info")
	cmd.Flags().BoolVar(&showHostname, "hostname", false, "Show hostname")
	cmd.Flags().BoolVar(&showRuntime, "runtime", false, "Show Go runtime version")

	return cmd
}
