package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/stevecastle/gamelauncher/launcher"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show what the launcher would do next",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			res := a.launcher(nil).Resolve(ctx)
			printResolution(cmd, res)

			if active, err := a.voice.Active(ctx); err == nil && active != nil {
				cmd.Printf("voice in game: %s\n", active.Lang)
			}
			if data, err := a.game.Latest(ctx); err == nil {
				cmd.Printf("download size: %s\n", humanize.Bytes(uint64(data.Game.Latest.Bytes())))
			}
			return nil
		})
	},
}

func printResolution(cmd *cobra.Command, res launcher.Resolution) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "state:\t%s\n", res.State)
	fmt.Fprintf(w, "action:\t%s\n", res.State.Title())
	if res.PredownloadAvailable {
		fmt.Fprintf(w, "predownload:\tavailable (launcher run --predownload)\n")
	}
	fmt.Fprintf(w, "runner:\t%s\n", orNone(res.Versions.Runner))
	fmt.Fprintf(w, "dxvk:\t%s\n", orNone(res.Versions.DXVK))
	fmt.Fprintf(w, "game:\t%s (latest %s)\n", orNone(res.Versions.Game), orNone(res.Versions.Latest))
	fmt.Fprintf(w, "voice:\t%s\n", orNone(res.Versions.Voice))
	if res.Err != nil {
		fmt.Fprintf(w, "warning:\t%v\n", res.Err)
	}
	w.Flush()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
