package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var logsFollow bool

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show deployment logs for the project's platform",
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

		stream, err := rt.orch.Logs(cmd.Context(), doc.Project.Name, doc.Platform,
			doc.PlatformConfig(doc.Platform), logsFollow)
		if err != nil {
			return err
		}
		defer stream.Close()

		for {
			line, err := stream.Next()
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			fmt.Println(line)
		}
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep streaming new log lines")
}
