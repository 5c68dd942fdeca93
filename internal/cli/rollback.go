package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackTarget int64

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Re-activate an earlier successful deployment",
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

		rec, err := rt.orch.Rollback(cmd.Context(), doc.Project.Name, doc.Platform,
			doc.PlatformConfig(doc.Platform), rollbackTarget)
		if err != nil {
			return err
		}

		fmt.Printf("Rolled back to deployment #%d (recorded as #%d).\n", rec.RollbackOf, rec.Sequence)
		if rec.URL != "" {
			fmt.Printf("  %s\n", rec.URL)
		}
		return nil
	},
}

func init() {
	rollbackCmd.Flags().Int64VarP(&rollbackTarget, "target", "t", 0,
		"history sequence to roll back to (default: latest succeeded)")
}
