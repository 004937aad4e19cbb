package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"forest/internal/api"
)

func newStatusCommand(addr *string) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the pipeline snapshot and queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*addr)
			if err != nil {
				return err
			}

			status, err := client.PipelineStatus(cmd.Context(), 0, 0)
			if err != nil {
				return err
			}
			printPipelineStatus(status)
			if !watch {
				return nil
			}

			since := status.Version
			for {
				status, err = client.PipelineStatus(cmd.Context(), since, 30)
				if err != nil {
					return err
				}
				if status.Version != since {
					printPipelineStatus(status)
					since = status.Version
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "long-poll and print every state change")
	return cmd
}

func printPipelineStatus(status *api.PipelineStatusResponse) {
	fmt.Printf("[v%d] %s %3d%%  %s", status.Version, status.State, status.Progress, status.Message)
	if status.JobID != "" {
		fmt.Printf("  (job %s)", status.JobID)
	}
	fmt.Printf("  queue=%d waiting=%d entities=%d\n",
		status.QueueTotal, status.QueueWaiting, status.ActiveEntities)
	if status.PreviewURL != "" {
		fmt.Println("  preview:", status.PreviewURL)
	}
}
