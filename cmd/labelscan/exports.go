package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/labelscan/internal/database"
)

var exportsCmd = &cobra.Command{
	Use:   "exports",
	Short: "List exported batches recorded in the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := database.NewExportRepository(db).List(context.Background(), limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No exports yet")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tFILE\tROWS\tDUPLICATES\tDELIVERED")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
				r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Filename, r.RowCount, r.DuplicateCount, r.Delivered)
		}
		return w.Flush()
	},
}

func init() {
	exportsCmd.Flags().Int("limit", 20, "number of batches to show (0 for all)")
	rootCmd.AddCommand(exportsCmd)
}
