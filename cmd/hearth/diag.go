package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/diag"
	"github.com/hearthd/hearth/pkg/events"
	"github.com/hearthd/hearth/pkg/security"
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Diagnose the local environment",
	Long: `Check external dependencies, probe the services the current
configuration relies on, and report resource headroom. Runs against the
configuration on disk; the suite does not need to be running.`,
	RunE: runDiag,
}

func init() {
	diagCmd.Flags().Bool("json", false, "Emit the report as JSON")
}

func runDiag(cmd *cobra.Command, args []string) error {
	dir := baseDir(cmd)

	opts := []config.Option{config.WithSecretPaths(config.SecretPaths()...)}
	key, err := security.LoadKey(filepath.Join(dir, "data", "keys", security.WrapperKeyFile))
	if err == nil {
		box, err := security.NewBox(key)
		if err != nil {
			return exitWith(exitConfig, err)
		}
		opts = append(opts, config.WithSecretBox(box))
	} else if !errors.Is(err, security.ErrKeyMissing) {
		return exitWith(exitConfig, err)
	}

	cfg, err := config.Load(filepath.Join(dir, "config", "suite_config.json"), opts...)
	if err != nil {
		return exitWith(exitConfig, err)
	}

	bus := events.NewBus()
	defer bus.Close()
	report := diag.New(cfg, bus, filepath.Join(dir, "data", "vectors")).Run()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if !report.Healthy() {
		return fmt.Errorf("%d problem(s) found", len(report.Errors)+len(report.MissingDeps))
	}
	return nil
}

func printReport(report diag.Report) {
	for _, e := range report.Errors {
		fmt.Printf("✗ %s\n", e)
	}
	for _, d := range report.MissingDeps {
		fmt.Printf("✗ missing dependency: %s\n", d)
	}
	for _, w := range report.Warnings {
		fmt.Printf("! %s\n", w)
	}
	for service, status := range report.Probes {
		fmt.Printf("  probe %-14s %s\n", service, status)
	}
	for _, h := range report.SystemHints {
		fmt.Printf("  %s\n", h)
	}
	if len(report.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, r := range report.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
	}
	if report.Healthy() {
		fmt.Println("✓ Environment looks good")
	}
}
