package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes. Scripts depend on these staying stable.
const (
	exitOK       = 0
	exitConfig   = 2
	exitDegraded = 3
	exitFatal    = 4
)

// exitError carries a specific process exit code through cobra's RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error { return &exitError{code: code, err: err} }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Hearth - local-first personal assistant suite",
	Long: `Hearth supervises a suite of assistant modules on one machine:
it discovers them, assigns their ports, watches their health, assembles
per-user context bundles, and optionally syncs encrypted context with a
trusted peer.

Everything runs locally; nothing leaves the machine unless a cloud peer
is explicitly configured.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hearth version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("dir", defaultBaseDir(), "Suite base directory")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncNowCmd)
	rootCmd.AddCommand(diagCmd)
}

func defaultBaseDir() string {
	if dir := os.Getenv("HEARTH_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".hearth")
}

func baseDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("dir")
	return dir
}
