package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"authkeeper/internal/oauth"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthCanceled indicates a login that ended without an outcome:
	// the user closed the browser or the deadline passed.
	ExitCodeAuthCanceled = 2
	// ExitCodeAuthFailed indicates the OAuth flow was rejected.
	ExitCodeAuthFailed = 3
)

// Persistent flags shared by all subcommands.
var (
	flagConfigPath string
	flagHost       string
	flagQuiet      bool
)

// rootCmd represents the base command for the authkeeper application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "authkeeper",
	Short: "Manage authenticated sessions for scope-based services",
	Long: `authkeeper signs you in to a remote service through your browser
using OAuth with PKCE, and keeps the resulting sessions in a local
secret store so every process on this machine shares one view of who
is logged in with which scopes.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the
// application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application. It is called
// by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "authkeeper version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the exit code based on the error type. This
// provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if oauth.IsCanceled(err) {
		return ExitCodeAuthCanceled
	}

	var loginFailed *oauth.LoginFailedError
	if errors.As(err, &loginFailed) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config-path", "", "config directory (default is $HOME/.config/authkeeper)")
	rootCmd.PersistentFlags().StringVar(&flagHost, "host", "", "base URL of the service, overrides the configured host")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress progress output")
}
