package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"deployx/internal/config"
	"deployx/internal/errdefs"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the project configuration",
	}
	configCmd.AddCommand(configShowCmd(), configEditCmd(), configValidateCmd())
	return configCmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the parsed deployx.yml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.Load(projectDir)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(doc)
			if err != nil {
				return err
			}
			os.Stdout.Write(out)
			return nil
		},
	}
}

func configEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Open deployx.yml in $EDITOR and validate the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(projectDir); err != nil {
				return err
			}

			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = "vi"
			}
			edit := exec.CommandContext(cmd.Context(), editor, config.Path(projectDir))
			edit.Stdin = os.Stdin
			edit.Stdout = os.Stdout
			edit.Stderr = os.Stderr
			if err := edit.Run(); err != nil {
				return errdefs.Configuration(fmt.Sprintf("editor %s failed", editor), err)
			}

			doc, err := config.Load(projectDir)
			if err != nil {
				return err
			}
			return config.Validate(doc)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check deployx.yml is complete and consistent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.Load(projectDir)
			if err != nil {
				return err
			}
			if err := config.Validate(doc); err != nil {
				return err
			}
			fmt.Printf("%s is valid: %s -> %s\n", config.ConfigFilename, doc.Project.Name, doc.Platform)
			return nil
		},
	}
}
