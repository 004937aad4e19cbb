package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newGalleryCommand(addr *string) *cobra.Command {
	var (
		owner string
		phone string
	)

	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "List approved artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*addr)
			if err != nil {
				return err
			}
			resp, err := client.Gallery(cmd.Context(), owner, phone)
			if err != nil {
				return err
			}
			if len(resp.Items) == 0 {
				fmt.Println("gallery is empty")
				return nil
			}

			t := newTable()
			t.AppendHeader(table.Row{"file", "type", "owner", "creator", "created"})
			for _, item := range resp.Items {
				t.AppendRow(table.Row{
					item.FileName, item.Type, item.OwnerName, item.CreatorName,
					item.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner name substring")
	cmd.Flags().StringVar(&phone, "phone", "", "filter by exact phone number")

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <filename>...",
		Short: "Delete artifacts and their gallery files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*addr)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				resp, err := client.DeleteArtifact(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Println("deleted", resp.Deleted)
				return nil
			}
			resp, err := client.DeleteArtifacts(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d artifacts\n", resp.Deleted)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every artifact and clear active entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*addr)
			if err != nil {
				return err
			}
			resp, err := client.ClearGallery(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d artifacts, cleared %d entities\n", resp.Deleted, resp.EntitiesCleared)
			return nil
		},
	})
	return cmd
}
