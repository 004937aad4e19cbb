package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"forest/internal/api"
	"forest/internal/config"
)

func newRootCommand() *cobra.Command {
	var addr string

	root := &cobra.Command{
		Use:           "forest",
		Short:         "Operate the forest scan queue daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "", "daemon API address (defaults to the configured bind)")

	root.AddCommand(
		newStatusCommand(&addr),
		newSubmitCommand(&addr),
		newJobCommand(&addr),
		newQueueCommand(&addr),
		newApproveCommand(&addr),
		newDiscardCommand(&addr),
		newSpawnCommand(&addr),
		newClearCommand(&addr),
		newGalleryCommand(&addr),
	)
	return root
}

// newClient resolves the daemon address, falling back to the local config
// when --addr is not given.
func newClient(addr string) (*api.Client, error) {
	if addr == "" {
		cfg, _, _, err := config.Load("")
		if err != nil {
			return nil, err
		}
		addr = cfg.Paths.APIBind
	}
	return api.NewClient(addr), nil
}

// newTable returns a table writer styled for the current terminal.
func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	if isatty.IsTerminal(os.Stdout.Fd()) {
		t.SetStyle(table.StyleLight)
	}
	return t
}
