package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"deployx/internal/auth"
	"deployx/internal/config"
	"deployx/internal/credentials"
	"deployx/internal/errdefs"
	"deployx/internal/history"
	"deployx/internal/logger"
	"deployx/internal/orchestrator"
	"deployx/internal/platform"
	"deployx/internal/telemetry"
)

var projectDir string

var rootCmd = &cobra.Command{
	Use:           "deployx",
	Short:         "Deploy web projects to hosting platforms from one CLI",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "project directory")
	rootCmd.AddCommand(deployCmd, statusCmd, logsCmd, historyCmd, rollbackCmd,
		newAuthCmd(), newConfigCmd(), initCmd)
}

// Execute runs the CLI and returns the process exit code. Errors map
// to exit code ranges by kind; the remedy, when known, prints after
// the error.
func Execute() int {
	logger.Initialize()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if remedy := errdefs.Remedy(err); remedy != "" {
			fmt.Fprintf(os.Stderr, "to fix: %s\n", remedy)
		}
		return errdefs.ExitCode(err)
	}
	return 0
}

// runtime bundles the long-lived pieces a command needs. History opens
// lazily because auth commands run outside any project.
type runtime struct {
	settings  *config.Settings
	store     *credentials.Store
	resolver  *auth.Resolver
	telemetry *telemetry.Telemetry

	hist *history.Store
	orch *orchestrator.Orchestrator
}

func newRuntime() (*runtime, error) {
	settings := config.LoadSettings()

	credDir, err := credentials.DefaultDir()
	if err != nil {
		return nil, errdefs.Configuration("locate credential directory", err)
	}
	store, err := credentials.Open(credDir)
	if err != nil {
		return nil, errdefs.Configuration("open credential store", err)
	}

	resolver := auth.NewResolver(store, auth.NewInteractor(), liveValidator(settings))
	return &runtime{
		settings:  settings,
		store:     store,
		resolver:  resolver,
		telemetry: telemetry.Initialize(settings),
	}, nil
}

// openProject loads deployx.yml and the project's history store, and
// wires the orchestrator.
func (r *runtime) openProject() (*config.Document, error) {
	doc, err := config.Load(projectDir)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(doc); err != nil {
		return nil, err
	}

	hist, err := history.Open(projectDir)
	if err != nil {
		return nil, err
	}
	r.hist = hist
	r.orch = orchestrator.New(hist, r.resolver, r.settings, r.telemetry)
	return doc, nil
}

func (r *runtime) close() {
	if r.hist != nil {
		r.hist.Close()
	}
	r.telemetry.Shutdown()
}

// liveValidator checks a credential with one real platform call.
func liveValidator(settings *config.Settings) auth.Validator {
	return func(ctx context.Context, platformName string, cred *credentials.Credential) error {
		adapter, err := platform.New(platformName, map[string]string{}, settings.NetworkTimeout)
		if err != nil {
			return err
		}
		return adapter.ValidateCredential(ctx, cred)
	}
}
