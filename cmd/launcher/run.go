package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/stevecastle/gamelauncher/downloads"
	"github.com/stevecastle/gamelauncher/launcher"
)

var (
	predownload bool
	events      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the action the current state offers",
	Long: "Resolves the launcher state and runs its action: installs wine or DXVK, " +
		"installs or updates the game and voice pack, applies the patch or launches the game.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			var sink launcher.StateSink = newConsoleSink(cmd.ErrOrStderr())
			if events {
				sink = nil
				stop := printEvents(a, cmd.OutOrStdout())
				defer stop()
			}
			res, err := a.launcher(sink).Run(ctx, predownload)
			if err != nil {
				return err
			}
			printResolution(cmd, res)
			return nil
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&predownload, "predownload", false, "predownload the upcoming update instead of the primary action")
	runCmd.Flags().BoolVar(&events, "events", false, "print state, progress and pipeline events as JSON lines instead of progress text")
}

// printEvents writes every hub message to out until the returned func is called.
func printEvents(a *app, out io.Writer) func() {
	ch, unsubscribe := a.hub.Subscribe("cli")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			fmt.Fprintln(out, msg.Line())
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

// consoleSink prints progress lines, at most one per second.
type consoleSink struct {
	out     io.Writer
	mu      sync.Mutex
	title   string
	last    time.Time
	speed   *downloads.SpeedTracker
	started time.Time
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out}
}

func (s *consoleSink) SetState(r launcher.Resolution) {
	fmt.Fprintf(s.out, "state: %s\n", r.State)
}

func (s *consoleSink) InitProgress(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.last = time.Time{}
	s.speed = downloads.NewSpeedTracker()
	s.started = time.Now()
	fmt.Fprintln(s.out, title)
}

func (s *consoleSink) Progress(current, total, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speed == nil {
		return
	}
	speed := s.speed.Update(current)
	if time.Since(s.last) < time.Second && current < total {
		return
	}
	s.last = time.Now()

	pct := 0.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	fmt.Fprintf(s.out, "  %s: %s / %s (%.1f%%) %s/s\n", s.title,
		humanize.Bytes(uint64(current)), humanize.Bytes(uint64(total)), pct, humanize.Bytes(uint64(speed)))
}

func (s *consoleSink) HideProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.title != "" {
		fmt.Fprintf(s.out, "  %s done in %s\n", s.title, time.Since(s.started).Round(time.Second))
	}
	s.title = ""
	s.speed = nil
}
