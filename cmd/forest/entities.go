package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"forest/internal/api"
)

func newSpawnCommand(addr *string) *cobra.Command {
	var (
		class string
		name  string
	)

	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Spawn an entity directly, without a scan job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*addr)
			if err != nil {
				return err
			}
			resp, err := client.Spawn(cmd.Context(), api.SpawnRequest{Type: class, Name: name})
			if err != nil {
				return err
			}
			fmt.Printf("spawned %s (%s) as %s\n", resp.Entity.Name, resp.Entity.Type, resp.Entity.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&class, "type", "", "type: sky, ground, or water (required)")
	cmd.Flags().StringVar(&name, "name", "", "creature name (required)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newClearCommand(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear all active entities from the display",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*addr)
			if err != nil {
				return err
			}
			resp, err := client.ClearEntities(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("cleared %d entities\n", resp.Cleared)
			return nil
		},
	}
}
