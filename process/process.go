// Package process runs external tools (wine, setup scripts, hpatchz) and
// streams their combined output line by line.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// OutputBuffer is how many unread lines Output holds before newer lines are
// dropped from the channel. Wait always returns every line.
const OutputBuffer = 256

// DefaultWaitDelay bounds how long Wait keeps reading output after the
// process exits. Wine leaves wineserver running with the pipe still open.
const DefaultWaitDelay = 5 * time.Second

// Command describes a process to start.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is added on top of the current environment.
	Env map[string]string
	// WaitDelay overrides DefaultWaitDelay when positive.
	WaitDelay time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	Output   []string
}

// Stdout joins the collected output lines.
func (r Result) Stdout() string {
	return strings.Join(r.Output, "\n")
}

type Process struct {
	cmd   *exec.Cmd
	lines chan string
	done  chan struct{}

	mu     sync.Mutex
	output []string
	err    error
}

// Start launches c. The process is killed when ctx is cancelled.
func Start(ctx context.Context, c Command) (*Process, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnv(os.Environ(), c.Env)
	configureSysProcAttr(cmd)
	cmd.WaitDelay = DefaultWaitDelay
	if c.WaitDelay > 0 {
		cmd.WaitDelay = c.WaitDelay
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", c.Path, err)
	}
	log.Debugf("started %s (pid %d)", c, cmd.Process.Pid)

	p := &Process{
		cmd:   cmd,
		lines: make(chan string, OutputBuffer),
		done:  make(chan struct{}),
	}

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			p.mu.Lock()
			p.output = append(p.output, line)
			p.mu.Unlock()
			select {
			case p.lines <- line:
			default:
			}
		}
		// Drain so the child never blocks on a full pipe after a scan error.
		io.Copy(io.Discard, pr)
	}()

	go func() {
		err := cmd.Wait()
		if errors.Is(err, exec.ErrWaitDelay) {
			log.Debugf("%s exited with output still held open by a child", c)
			err = nil
		}
		pw.Close()
		<-scanned
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.lines)
		close(p.done)
	}()

	return p, nil
}

// Output streams combined stdout and stderr lines. The channel is closed when
// the process exits.
func (p *Process) Output() <-chan string {
	return p.lines
}

// Done is closed once the process has exited and its output is collected.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits. A non-zero exit status is reported
// both in Result.ExitCode and as an *exec.ExitError.
func (p *Process) Wait() (Result, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	res := Result{Output: append([]string(nil), p.output...)}
	if p.cmd.ProcessState != nil {
		res.ExitCode = p.cmd.ProcessState.ExitCode()
	}
	return res, p.err
}

// Run starts c and waits for it to finish.
func Run(ctx context.Context, c Command) (Result, error) {
	p, err := Start(ctx, c)
	if err != nil {
		return Result{}, err
	}
	return p.Wait()
}

// IsExitError reports whether err came from a process exiting with a
// non-zero status rather than from failing to run it.
func IsExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[name]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
