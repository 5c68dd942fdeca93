package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"deployx/internal/errdefs"
	"deployx/internal/platform"
)

func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage platform credentials",
	}
	authCmd.AddCommand(authSetupCmd(), authStatusCmd(), authClearCmd())
	return authCmd
}

func authSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup <platform>",
		Short: "Acquire, verify and store a credential for a platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := checkPlatform(name); err != nil {
				return err
			}

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			cred, err := rt.resolver.Setup(cmd.Context(), name)
			if err != nil {
				return err
			}
			fmt.Printf("Stored %s credential for %s.\n", cred.Kind, name)
			return nil
		},
	}
}

func authStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [platform]",
		Short: "Show where each platform's credential would come from",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			names := platform.Names()
			if len(args) == 1 {
				if err := checkPlatform(args[0]); err != nil {
					return err
				}
				names = args[:1]
			}

			for _, name := range names {
				st, err := rt.resolver.Status(cmd.Context(), name)
				if err != nil {
					return err
				}
				switch {
				case st.HasSession:
					fmt.Printf("%-14s CLI session (%s)\n", name, st.SessionTool)
				case st.HasStored:
					fmt.Printf("%-14s stored %s\n", name, st.StoredKind)
				default:
					fmt.Printf("%-14s not configured\n", name)
				}
			}
			return nil
		},
	}
}

func authClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <platform>",
		Short: "Remove the stored credential for a platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := checkPlatform(name); err != nil {
				return err
			}

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.resolver.Clear(name); err != nil {
				return err
			}
			fmt.Printf("Cleared stored credential for %s.\n", name)
			return nil
		},
	}
}

func checkPlatform(name string) error {
	for _, known := range platform.Names() {
		if known == name {
			return nil
		}
	}
	return errdefs.Configuration(
		fmt.Sprintf("unknown platform %q (supported: %v)", name, platform.Names()), nil)
}
