package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the project's deployment history, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		doc, err := rt.openProject()
		if err != nil {
			return err
		}

		records, err := rt.orch.History(cmd.Context(), doc.Project.Name, historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Printf("%s has no deployments yet.\n", doc.Project.Name)
			return nil
		}

		for _, rec := range records {
			line := fmt.Sprintf("#%-4d %-12s %-12s %s",
				rec.Sequence, rec.Status, rec.Platform,
				rec.StartedAt.Local().Format("2006-01-02 15:04"))
			if rec.RollbackOf != 0 {
				line += fmt.Sprintf("  (rollback of #%d)", rec.RollbackOf)
			}
			if rec.URL != "" {
				line += "  " + rec.URL
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "maximum records to show (0 for all)")
}
