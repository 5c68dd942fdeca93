package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"deployx/internal/config"
	"deployx/internal/detect"
	"deployx/internal/errdefs"
)

var (
	initName     string
	initPlatform string
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a deployx.yml seeded from project detection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if config.Exists(projectDir) && !initForce {
			return errdefs.Configuration(
				fmt.Sprintf("%s already exists (use --force to overwrite)", config.ConfigFilename), nil)
		}

		profile := detect.Detect(projectDir)

		name := initName
		if name == "" {
			abs, err := filepath.Abs(projectDir)
			if err != nil {
				return errdefs.Configuration("resolve project directory", err)
			}
			name = filepath.Base(abs)
		}

		projectType := profile.Type
		if projectType == "unknown" {
			projectType = "static"
		}

		doc := config.Default(name, projectType, initPlatform)
		if profile.BuildCommand != "" {
			doc.Build.Command = profile.BuildCommand
		}
		if profile.OutputDir != "" {
			doc.Build.Output = profile.OutputDir
		}

		if err := config.Validate(doc); err != nil {
			return err
		}
		if err := config.Save(projectDir, doc); err != nil {
			return err
		}

		fmt.Printf("Wrote %s: %s (%s) -> %s\n", config.ConfigFilename, name, projectType, initPlatform)
		if profile.Framework != "" {
			fmt.Printf("  detected framework: %s (%s)\n", profile.Framework, profile.PackageManager)
		}
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "project name (default: directory name)")
	initCmd.Flags().StringVar(&initPlatform, "platform", "github-pages", "deployment platform")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing deployx.yml")
}
