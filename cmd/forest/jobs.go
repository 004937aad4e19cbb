package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"forest/internal/api"
)

func newSubmitCommand(addr *string) *cobra.Command {
	var (
		owner   string
		creator string
		phone   string
		class   string
	)

	cmd := &cobra.Command{
		Use:   "submit <image-file>",
		Short: "Enqueue an image scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			client, err := newClient(*addr)
			if err != nil {
				return err
			}

			resp, err := client.SubmitScan(cmd.Context(), api.SubmitScanRequest{
				ImageData:   base64.StdEncoding.EncodeToString(data),
				OwnerName:   owner,
				CreatorName: creator,
				PhoneNumber: phone,
				Type:        class,
			})
			if err != nil {
				return err
			}
			fmt.Printf("queued job %s (position %d of %d)\n", resp.JobID, resp.QueuePosition, resp.QueueTotal)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner name (required)")
	cmd.Flags().StringVar(&creator, "creator", "", "creator name (required)")
	cmd.Flags().StringVar(&phone, "phone", "", "contact phone number (required)")
	cmd.Flags().StringVar(&class, "type", "", "requested type: sky, ground, or water")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("creator")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func newJobCommand(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show one job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*addr)
			if err != nil {
				return err
			}
			job, err := client.JobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			t := newTable()
			t.AppendRows([]table.Row{
				{"job", job.JobID},
				{"status", job.Status},
				{"progress", fmt.Sprintf("%d%%", job.Progress)},
			})
			if job.Message != "" {
				t.AppendRow(table.Row{"message", job.Message})
			}
			if job.QueuePosition > 0 {
				t.AppendRow(table.Row{"queue", fmt.Sprintf("%d of %d", job.QueuePosition, job.QueueTotal)})
			}
			if job.RequestedType != "" {
				t.AppendRow(table.Row{"requested type", job.RequestedType})
			}
			if job.DetectedType != "" {
				t.AppendRow(table.Row{"detected type", job.DetectedType})
			}
			if job.PreviewURL != "" {
				t.AppendRow(table.Row{"preview", job.PreviewURL})
			}
			if job.ArtifactName != "" {
				t.AppendRow(table.Row{"artifact", job.ArtifactName})
			}
			if job.Error != "" {
				t.AppendRow(table.Row{"error", job.Error})
			}
			t.Render()
			return nil
		},
	}
}

func newQueueCommand(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show queue counts and worker health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*addr)
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}

			t := newTable()
			t.AppendHeader(table.Row{"waiting", "in review", "done", "failed", "total"})
			t.AppendRow(table.Row{
				health.QueueWaiting, health.QueueInReview, health.QueueDone,
				health.QueueFailed, health.QueueTotal,
			})
			t.Render()

			if !health.WorkerRunning {
				fmt.Println("worker: not running")
			}
			if health.WorkerError != "" {
				fmt.Println("worker error:", health.WorkerError)
			}
			return nil
		},
	}
}
