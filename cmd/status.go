package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configured service and stored sessions",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	sessions := rt.manager.GetSessions(ctx, nil)

	fmt.Printf("Service:  %s\n", rt.cfg.Host)
	fmt.Printf("Client:   %s\n", rt.cfg.ClientID)
	if len(sessions) == 0 {
		fmt.Printf("Sessions: %s\n", text.FgYellow.Sprint("none"))
		return nil
	}
	fmt.Printf("Sessions: %s\n", text.FgGreen.Sprintf("%d stored", len(sessions)))
	return nil
}
