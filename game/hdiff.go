package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/stevecastle/gamelauncher/process"
)

// HDiffManifest lists files patched in place, one JSON object per line.
const HDiffManifest = "hdifffiles.txt"

const patchOK = "patch ok!"

type hdiffEntry struct {
	RemoteName string `json:"remoteName"`
}

// Patcher applies hdiff patches with hpatchz.
type Patcher struct {
	Binary string
	run    func(context.Context, process.Command) (process.Result, error)
}

func NewPatcher(binary string) *Patcher {
	return &Patcher{Binary: binary, run: process.Run}
}

// Patch runs hpatchz -f file patch output and reports whether the tool
// confirmed success.
func (p *Patcher) Patch(ctx context.Context, file, patch, output string) error {
	res, err := p.run(ctx, process.Command{
		Path: p.Binary,
		Args: []string{"-f", file, patch, output},
	})
	if err != nil && !process.IsExitError(err) {
		return err
	}
	if !strings.Contains(res.Stdout(), patchOK) {
		return fmt.Errorf("hpatchz did not patch %s: %s", file, strings.TrimSpace(res.Stdout()))
	}
	return nil
}

// ApplyHDiffs patches every file listed in dir/hdifffiles.txt with its
// .hdiff sibling and removes the patches. The manifest is removed only when
// every patch applied, so a failed run can be retried.
func (p *Patcher) ApplyHDiffs(ctx context.Context, dir string) ([]string, error) {
	manifest := filepath.Join(dir, HDiffManifest)
	data, err := os.ReadFile(manifest)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", manifest, err)
	}

	var (
		patched []string
		errs    []error
	)
	for _, line := range ParseManifestLines(string(data)) {
		var entry hdiffEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil || entry.RemoteName == "" {
			errs = append(errs, fmt.Errorf("invalid %s line %q", HDiffManifest, line))
			continue
		}
		file, err := resolveWithin(dir, entry.RemoteName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		patch := file + ".hdiff"
		if err := p.Patch(ctx, file, patch, file); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(patch); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warnf("failed to remove %s: %v", patch, err)
		}
		patched = append(patched, entry.RemoteName)
	}

	if len(errs) > 0 {
		return patched, errors.Join(errs...)
	}
	if err := os.Remove(manifest); err != nil {
		return patched, fmt.Errorf("failed to remove %s: %w", manifest, err)
	}
	if len(patched) > 0 {
		log.Infof("applied %d hdiff patches", len(patched))
	}
	return patched, nil
}
