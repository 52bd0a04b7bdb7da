// Package prefix checks for and creates the wine prefix the game runs in.
package prefix

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/stevecastle/gamelauncher/process"
)

// marker is written by wineboot once a prefix is initialised.
const marker = "system.reg"

// Exists reports whether dir holds an initialised prefix.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, marker))
	return err == nil
}

// Creator initialises prefixes with a runner's wine64 and wineserver.
type Creator struct {
	Wine64     string
	Wineserver string
	run        func(context.Context, process.Command) (process.Result, error)
}

func NewCreator(wine64, wineserver string) *Creator {
	return &Creator{Wine64: wine64, Wineserver: wineserver, run: process.Run}
}

// Create runs wineboot in dir. It is a no-op for an existing prefix.
func (c *Creator) Create(ctx context.Context, dir string) error {
	if Exists(dir) {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create prefix directory: %w", err)
	}

	log.Infof("creating wine prefix in %s", dir)
	res, err := c.run(ctx, process.Command{
		Path: c.Wine64,
		Args: []string{"wineboot", "-i"},
		Env: map[string]string{
			"WINEPREFIX":       dir,
			"WINESERVER":       c.Wineserver,
			"WINEDLLOVERRIDES": "mscoree,mshtml=",
		},
	})
	for _, line := range res.Output {
		log.Debug(line)
	}
	if err != nil {
		return fmt.Errorf("wineboot failed in %s: %w", dir, err)
	}
	if !Exists(dir) {
		return fmt.Errorf("wineboot finished without initialising %s", dir)
	}
	return nil
}
