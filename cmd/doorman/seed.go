package main

import (
	"github.com/mohammad-safakhou/doorman/config"
	"github.com/mohammad-safakhou/doorman/internal/store"
	"github.com/spf13/cobra"
)

func seedCMD() *cobra.Command {
	var nodes int
	var cfgPath string

	var cmd = &cobra.Command{
		Use:   "seed",
		Short: "Insert demo nodes, result logs and distributed queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			sum, err := store.SeedDemo(cmd.Context(), st, nodes)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().IntVar(&nodes, "nodes", 6, "number of demo nodes")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
