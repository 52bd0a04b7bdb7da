package launcher

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stevecastle/gamelauncher/process"
)

// LaunchCommand builds the command that starts the game with the selected
// runner. A runner whose wine64 is missing falls back to wine on PATH.
func (l *Launcher) LaunchCommand(ctx context.Context) (process.Command, error) {
	r, w, err := l.wine(ctx)
	if err != nil {
		return process.Command{}, err
	}
	wine := w.Wine64
	if _, err := os.Stat(wine); err != nil {
		log.Warnf("wine64 of runner %s is missing, using wine from PATH", r.Name)
		wine = "wine"
	}

	env := map[string]string{
		"WINEPREFIX": l.opts.Prefix,
		"WINE":       wine,
		"WINESERVER": w.Wineserver,
	}
	switch l.opts.HUD {
	case "dxvk":
		env["DXVK_HUD"] = "fps,frametimes"
	case "mangohud":
		env["MANGOHUD"] = "1"
	}
	for k, v := range l.opts.Env {
		env[k] = v
	}

	return process.Command{
		Path: wine,
		Args: []string{l.opts.Executable},
		Dir:  l.opts.Game.GameDir(),
		Env:  env,
	}, nil
}

// launch runs the game and waits for it to exit.
func launch(ctx context.Context, l *Launcher) error {
	cmd, err := l.LaunchCommand(ctx)
	if err != nil {
		return err
	}
	log.Infof("launching %s", cmd)
	started := time.Now()

	p, err := l.start(ctx, cmd)
	if err != nil {
		return fmt.Errorf("failed to launch game: %w", err)
	}
	for line := range p.Output() {
		log.WithField("component", "game").Debug(line)
	}
	res, err := p.Wait()
	log.Infof("game exited with code %d after %s", res.ExitCode, time.Since(started).Round(time.Second))
	if err != nil && !process.IsExitError(err) {
		return fmt.Errorf("game did not run: %w", err)
	}
	return nil
}
