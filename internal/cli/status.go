package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"deployx/internal/history"
	"deployx/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the project's most recent deployment",
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

		rec, err := rt.orch.Status(cmd.Context(), doc.Project.Name)
		if err != nil {
			if errors.Is(err, history.ErrNotFound) {
				fmt.Printf("%s has no deployments yet.\n", doc.Project.Name)
				return nil
			}
			return err
		}

		printRecord(rec)
		return nil
	},
}

func printRecord(rec *models.DeploymentRecord) {
	fmt.Printf("#%d  %s -> %s  [%s]\n", rec.Sequence, rec.Project, rec.Platform, rec.Status)
	fmt.Printf("  started:  %s\n", rec.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if !rec.FinishedAt.IsZero() {
		fmt.Printf("  finished: %s\n", rec.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if rec.URL != "" {
		fmt.Printf("  url:      %s\n", rec.URL)
	}
	if rec.RollbackOf != 0 {
		fmt.Printf("  rollback of: #%d\n", rec.RollbackOf)
	}
	if rec.ErrorDetail != "" {
		fmt.Printf("  detail:   %s\n", rec.ErrorDetail)
	}
}
