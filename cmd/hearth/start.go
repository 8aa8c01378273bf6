package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearthd/hearth/pkg/supervisor"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the suite supervisor in the foreground",
	Long: `Start the supervisor: discover modules, allocate their ports, launch
them, and serve the suite API on the loopback interface.

The process runs in the foreground until it receives SIGINT/SIGTERM or a
POST /shutdown. Exit codes: 0 clean stop, 2 configuration error, 3 stopped
with unhealthy modules, 4 fatal startup failure.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	s, err := supervisor.New(baseDir(cmd), Version)
	if err != nil {
		return exitWith(exitConfig, err)
	}

	if err := s.Run(context.Background()); err != nil {
		return exitWith(exitFatal, err)
	}
	if s.Degraded() {
		return exitWith(exitDegraded, fmt.Errorf("stopped with unhealthy modules"))
	}
	return nil
}
