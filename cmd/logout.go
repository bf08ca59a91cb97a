package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutAll bool

// newLogoutCmd creates the logout command.
func newLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout [session-id]",
		Short: "Remove a stored session",
		Long: `Remove a stored session by ID, or all sessions with --all.

Session IDs are listed by 'authkeeper sessions'. Removing a session does
not revoke the token server-side; it only forgets it locally.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLogout,
	}
	cmd.Flags().BoolVar(&logoutAll, "all", false, "remove every stored session")
	return cmd
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if !logoutAll && len(args) == 0 {
		return fmt.Errorf("a session ID is required unless --all is given")
	}

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if logoutAll {
		sessions := rt.manager.GetSessions(ctx, nil)
		for _, s := range sessions {
			if err := rt.manager.RemoveSession(ctx, s.ID); err != nil {
				return err
			}
		}
		if !flagQuiet {
			fmt.Printf("Removed %d session(s)\n", len(sessions))
		}
		return nil
	}

	if err := rt.manager.RemoveSession(ctx, args[0]); err != nil {
		return err
	}
	if !flagQuiet {
		fmt.Println("Session removed")
	}
	return nil
}
