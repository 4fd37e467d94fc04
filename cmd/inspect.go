package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cnpj-geocoder/internal/fetcher"
)

var inspectInputs []string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Preview field coverage of CNPJ extracts without geocoding",
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs := append(append([]string{}, inspectInputs...), args...)
		records, err := fetcher.LoadRecords(cmd.Context(), inputs, loadOptions(cfg))
		if err != nil {
			return err
		}

		cov := newBuilder(cfg).Coverage(records)

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cov); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	inspectCmd.Flags().StringSliceVarP(&inspectInputs, "input", "i", nil, "input file (xlsx, csv, txt or zip); repeatable")
	rootCmd.AddCommand(inspectCmd)
}
