// Package main provides the etenders command: the tender pipeline plus a
// couple of operator utilities.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"etenders/internal/config"
	"etenders/internal/cpv"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "etenders",
		Short:        "Scrape, enrich and store public procurement tenders",
		SilenceUsage: true,
	}

	root.AddCommand(newRunCommand(), newCodesCommand(), newValidateConfigCommand())

	return root
}

func newCodesCommand() *cobra.Command {
	var reference string

	cmd := &cobra.Command{
		Use:   "codes [text...]",
		Short: "Print the classification codes found in free text, marking unknown ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dict, err := cpv.LoadDictionary(reference)
			if err != nil {
				return err
			}

			matches := cpv.NewExtractor(dict).Extract(cpv.Input{Classification: strings.Join(args, " ")})

			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(out, "No codes found")

				return nil
			}

			for _, m := range matches {
				if m.Validated {
					fmt.Fprintf(out, "✓ %s  %s\n", m.Code, m.Description)
				} else {
					fmt.Fprintf(out, "? %s  (not in dictionary)\n", m.Code)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&reference, "reference", config.Default().Reference.Path, "Path to the CPV dictionary")

	return cmd
}

func newValidateConfigCommand() *cobra.Command {
	var path, save string

	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}

			cfg, err := config.LoadConfig(path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s is valid\n%s\n", path, cfg)

			if save != "" {
				if err := cfg.SaveConfig(save); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "ℹ️  Effective configuration written to %s\n", save)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&path, "config", "configs/etenders.yaml", "Path to the configuration file")
	cmd.Flags().StringVar(&save, "save", "", "Write the effective configuration (defaults, file and environment merged) to this path")

	return cmd
}
