package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stevecastle/gamelauncher/platform"
)

var openCmd = &cobra.Command{
	Use:       "open game|prefix|logs|config",
	Short:     "Open a launcher directory in the file manager",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"game", "prefix", "logs", "config"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := store.Get()
		var path string
		switch args[0] {
		case "game":
			path = cfg.Paths.Game
		case "prefix":
			path = cfg.Prefix
		case "logs":
			path = filepath.Dir(platform.LogPath())
			if cfg.Log.File != "" && cfg.Log.File != "console" {
				path = filepath.Dir(cfg.Log.File)
			}
		case "config":
			path = store.Path()
		default:
			return fmt.Errorf("unknown location %q", args[0])
		}
		return platform.OpenPath(path)
	},
}
