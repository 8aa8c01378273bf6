package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthd/hearth/pkg/client"
	"github.com/hearthd/hearth/pkg/types"
)

func suiteClient(cmd *cobra.Command) (*client.Client, error) {
	c, err := client.FromBaseDir(baseDir(cmd))
	if err != nil {
		return nil, exitWith(exitConfig, err)
	}
	return c, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show suite and module status",
	Long: `Query the running suite and print a per-module status table.

Exits 3 when any module is unhealthy, so scripts can alert on partial
degradation without parsing the output.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := suiteClient(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	live, err := c.Health(ctx)
	if err != nil {
		if errors.Is(err, client.ErrNotRunning) {
			return fmt.Errorf("suite is not running")
		}
		return err
	}
	fmt.Printf("Hearth %s  up %s  boot %s\n", live.Version, (time.Duration(live.UptimeS) * time.Second).String(), live.BootID)

	modules, err := c.Modules(ctx)
	if err != nil {
		return err
	}
	if len(modules) == 0 {
		fmt.Println("No modules discovered.")
		return nil
	}

	fmt.Printf("\n%-20s %-10s %-6s %-8s %s\n", "MODULE", "STATE", "PORT", "RESTARTS", "REASON")
	unhealthy := 0
	for _, m := range modules {
		port := "-"
		if m.AssignedPort != 0 {
			port = fmt.Sprintf("%d", m.AssignedPort)
		}
		fmt.Printf("%-20s %-10s %-6s %-8d %s\n", m.ModuleID, m.State, port, m.Restarts, m.StateReason)
		if m.State == types.ModuleStateUnhealthy {
			unhealthy++
		}
	}
	if unhealthy > 0 {
		return exitWith(exitDegraded, fmt.Errorf("%d module(s) unhealthy", unhealthy))
	}
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running suite gracefully",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := suiteClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		if err := c.Shutdown(ctx); err != nil {
			if errors.Is(err, client.ErrNotRunning) {
				fmt.Println("Suite is not running.")
				return nil
			}
			return err
		}
		fmt.Println("✓ Shutdown requested")
		return nil
	},
}

var syncNowCmd = &cobra.Command{
	Use:   "sync-now",
	Short: "Trigger one cloud sync cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := suiteClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		result, err := c.SyncNow(ctx)
		if err != nil {
			if errors.Is(err, client.ErrNotRunning) {
				return fmt.Errorf("suite is not running")
			}
			return err
		}
		if !result.Triggered {
			return fmt.Errorf("sync failed: %s", result.Error)
		}
		fmt.Println("✓ Sync cycle completed")
		if result.LastSyncTS != "" {
			fmt.Printf("  Last sync: %s (%d ms)\n", result.LastSyncTS, result.LatencyMS)
		}
		return nil
	},
}
