package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var loginScopes []string

// newLoginCmd creates the login command. It starts the loopback redirect
// listener, opens the browser and waits for the flow to settle.
func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the configured service",
		Long: `Sign in to the configured service through your browser.

A local listener captures the OAuth redirect, the authorization code is
exchanged for a token, and the resulting session is stored so other
processes can pick it up.

Examples:
  authkeeper login                         # Login with no scope restriction
  authkeeper login --scope read --scope write`,
		RunE: runLogin,
	}
	cmd.Flags().StringSliceVar(&loginScopes, "scope", nil, "scope to request; may be repeated")
	return cmd
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := rt.callback.Start(ctx); err != nil {
		return err
	}

	var s *spinner.Spinner
	if !flagQuiet {
		fmt.Printf("Signing in to %s...\n", rt.cfg.Host)
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " Waiting for the browser..."
		s.Start()
	}

	created, err := rt.manager.CreateSession(ctx, loginScopes)

	if s != nil {
		s.Stop()
	}
	if err != nil {
		return err
	}

	if !flagQuiet {
		scopes := "all scopes"
		if len(created.Scopes) > 0 {
			scopes = strings.Join(created.Scopes, ", ")
		}
		fmt.Printf("%s Signed in as %s (%s)\n", text.FgGreen.Sprint("✓"), created.Account.Label, scopes)
	}
	return nil
}
