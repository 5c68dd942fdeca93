package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"deployx/internal/auth"
	"deployx/internal/detect"
	"deployx/internal/envfile"
	"deployx/internal/errdefs"
	"deployx/internal/logger"
	"deployx/internal/models"
)

var (
	deployDryRun    bool
	deployForce     bool
	deploySkipBuild bool
	deployEnvFile   string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Build and deploy the project to its configured platform",
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

		profile := detect.Detect(projectDir)
		env, err := envfile.Load(filepath.Join(projectDir, deployEnvFile))
		if err != nil {
			return errdefs.Configuration("load env file", err)
		}

		req := &models.DeploymentRequest{
			Project:     doc.Project.Name,
			Platform:    doc.Platform,
			ProjectDir:  projectDir,
			ArtifactDir: filepath.Join(projectDir, doc.Build.Output),
			Env:         env,
			Profile:     profile,
		}
		platformCfg := doc.PlatformConfig(doc.Platform)

		if deployDryRun {
			steps, err := rt.orch.Plan(cmd.Context(), req, platformCfg)
			if err != nil {
				return err
			}
			fmt.Printf("Plan for %s -> %s:\n", doc.Project.Name, doc.Platform)
			for i, step := range steps {
				fmt.Printf("  %d. [%s] %s\n", i+1, step.Stage, step.Detail)
			}
			return nil
		}

		if !deployForce {
			prompt := fmt.Sprintf("Deploy %s to %s?", doc.Project.Name, doc.Platform)
			ok, err := auth.NewInteractor().Confirm(prompt)
			if err != nil && !errors.Is(err, auth.ErrUnavailable) {
				return err
			}
			// No terminal means no prompt to decline (CI runs through).
			if err == nil && !ok {
				fmt.Println("Aborted.")
				return nil
			}
		}

		if !deploySkipBuild && doc.Build.Command != "" {
			if err := runBuild(cmd, doc.Build.Command); err != nil {
				return err
			}
		}
		if _, err := os.Stat(req.ArtifactDir); err != nil {
			return errdefs.Configuration(
				fmt.Sprintf("build output %s not found; check build.output in deployx.yml", doc.Build.Output), err)
		}

		rec, err := rt.orch.Deploy(cmd.Context(), req, platformCfg)
		if err != nil {
			return err
		}

		fmt.Printf("Deployment #%d succeeded.\n", rec.Sequence)
		if rec.URL != "" {
			fmt.Printf("  %s\n", rec.URL)
		}
		if rec.ErrorDetail != "" {
			fmt.Printf("  note: %s\n", rec.ErrorDetail)
		}
		return nil
	},
}

func init() {
	deployCmd.Flags().BoolVar(&deployDryRun, "dry-run", false, "show the plan without deploying")
	deployCmd.Flags().BoolVar(&deployForce, "force", false, "skip the confirmation prompt")
	deployCmd.Flags().BoolVar(&deploySkipBuild, "skip-build", false, "deploy the existing build output without rebuilding")
	deployCmd.Flags().StringVar(&deployEnvFile, "env-file", ".env", "environment file to pass to the deployment")
}

func runBuild(cmd *cobra.Command, command string) error {
	logger.WithModule("build").WithField("command", command).Info("building project")

	build := exec.CommandContext(cmd.Context(), "sh", "-c", command)
	build.Dir = projectDir
	build.Stdout = os.Stderr
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		return errdefs.Configuration(fmt.Sprintf("build command failed: %s", command), err)
	}
	return nil
}
