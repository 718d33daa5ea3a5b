package cli

import (
	"github.com/spf13/cobra"

	"github.com/impact-eintr/fekv/dump"
)

func dumpCmd(a *app) *cobra.Command {
	var path, table, format string

	c := &cobra.Command{
		Use:   "dump",
		Short: "Print every record of the entries table in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Dump
			if cmd.Flags().Changed("path") {
				cfg.StorePath = path
			}
			if cmd.Flags().Changed("table") {
				cfg.Table = table
			}
			if cmd.Flags().Changed("format") {
				cfg.Format = format
			}

			n, err := dump.Run(cfg, a.out)
			if err != nil {
				return a.fail(err)
			}
			a.logger.Named("dump").Debug("dump finished", "path", cfg.StorePath, "records", n)
			return nil
		},
	}

	c.Flags().StringVarP(&path, "path", "p", "", "store file (default from config: ./data/raft.mdb)")
	c.Flags().StringVarP(&table, "table", "t", "", "table to dump (default entries)")
	c.Flags().StringVar(&format, "format", "", "output format: raw|quoted")
	return c
}
