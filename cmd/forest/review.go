package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"forest/internal/api"
)

func newApproveCommand(addr *string) *cobra.Command {
	var (
		jobID   string
		class   string
		name    string
		creator string
		phone   string
	)

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve the job awaiting review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*addr)
			if err != nil {
				return err
			}
			resp, err := client.Approve(cmd.Context(), api.ApproveRequest{
				JobID:       jobID,
				Type:        class,
				Name:        name,
				CreatorName: creator,
				PhoneNumber: phone,
			})
			if err != nil {
				return err
			}
			fmt.Printf("approved job %s as %s\n", resp.JobID, resp.FileName)
			if resp.Entity.ID != "" {
				fmt.Printf("spawned %s (%s) as %s\n", resp.Entity.Name, resp.Entity.Type, resp.Entity.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id (defaults to the oldest job in review)")
	cmd.Flags().StringVar(&class, "type", "", "final type: sky, ground, or water (required)")
	cmd.Flags().StringVar(&name, "name", "", "creature name (required)")
	cmd.Flags().StringVar(&creator, "creator", "", "creator name (required)")
	cmd.Flags().StringVar(&phone, "phone", "", "contact phone number (required)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("creator")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func newDiscardCommand(addr *string) *cobra.Command {
	var (
		jobID  string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "discard",
		Short: "Reject the job awaiting review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*addr)
			if err != nil {
				return err
			}
			resp, err := client.Discard(cmd.Context(), api.DiscardRequest{JobID: jobID, Reason: reason})
			if err != nil {
				return err
			}
			fmt.Printf("discarded job %s (%s)\n", resp.JobID, resp.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id (defaults to the oldest job in review)")
	cmd.Flags().StringVar(&reason, "reason", "", "reviewer note recorded on the job")
	return cmd
}
