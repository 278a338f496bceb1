package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jules-labs/fleet/pkg/jules"
)

func queryCmd() *cobra.Command {
	var domain, output string
	var limit int

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a structured query against the local session/activity cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), 0)
			defer cancel()

			client, err := newClient(ctx)
			if err != nil {
				return err
			}

			q := jules.Query{Domain: jules.Domain(domain), Limit: limit}
			result, err := client.Query(ctx, q)
			if err != nil {
				return err
			}

			if output == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result.Rows)
			}

			return renderRows(result.Rows)
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "sessions", "sessions | activities")
	cmd.Flags().StringVar(&output, "output", "table", "table | json")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to return")
	return cmd
}

func renderRows(rows []jules.Row) error {
	if len(rows) == 0 {
		fmt.Println("No results")
		return nil
	}

	var columns []string
	for col := range rows[0] {
		columns = append(columns, col)
	}

	table := tablewriter.NewWriter(os.Stdout)
	headerRow := make([]interface{}, len(columns))
	for i, col := range columns {
		headerRow[i] = col
	}
	table.Header(headerRow...)

	for _, row := range rows {
		cells := make([]interface{}, len(columns))
		for i, col := range columns {
			cells[i] = fmt.Sprintf("%v", row[col])
		}
		_ = table.Append(cells...)
	}
	table.Render()
	return nil
}
