package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"authkeeper/internal/session"
	pkgstrings "authkeeper/pkg/strings"
)

var sessionsScopes []string

// newSessionsCmd creates the sessions listing command.
func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Long: `List the sessions currently stored for the configured service.

With --scope flags, only sessions whose scope set matches the query
exactly are shown.`,
		RunE: runSessions,
	}
	cmd.Flags().StringSliceVar(&sessionsScopes, "scope", nil, "restrict listing to sessions with exactly these scopes; may be repeated")
	return cmd
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	sessions := rt.manager.GetSessions(ctx, sessionsScopes)
	if len(sessions) == 0 {
		fmt.Printf("%s No sessions stored\n", text.FgYellow.Sprint("●"))
		return nil
	}

	renderSessionsTable(sessions)
	return nil
}

// renderSessionsTable prints sessions in the standard table style.
func renderSessionsTable(sessions []session.Session) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("ID"),
		text.FgHiCyan.Sprint("ACCOUNT"),
		text.FgHiCyan.Sprint("SCOPES"),
	})
	for _, s := range sessions {
		scopes := "(all)"
		if len(s.Scopes) > 0 {
			scopes = pkgstrings.Truncate(strings.Join(s.Scopes, ", "), pkgstrings.DefaultCellMaxLen)
		}
		account := s.Account.Label
		if account == "" {
			account = text.FgYellow.Sprint("unverified")
		}
		t.AppendRow(table.Row{s.ID, account, scopes})
	}
	t.Render()
}
