package dxvk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/stevecastle/gamelauncher/platform"
	"github.com/stevecastle/gamelauncher/process"
)

const setupScript = "setup_dxvk.sh"

// Wine holds absolute paths of the runner binaries the setup script uses.
type Wine struct {
	Wine       string
	Wine64     string
	Wineboot   string
	Wineserver string
	Winecfg    string
}

var (
	wineAssign     = regexp.MustCompile(`wine=".*"`)
	wine64Assign   = regexp.MustCompile(`wine64=".*"`)
	winebootAssign = regexp.MustCompile(`wineboot=".*"`)
)

// quoteFixes make the script tolerate spaces in the runners path and update
// the prefix with wine64 rather than wineboot.
var quoteFixes = strings.NewReplacer(
	"$wineboot -u", `"$wine64" -u`,
	"which $wineboot", `which "$wineboot"`,
	"$wine --version", `"$wine" --version`,
	"$wine64 winepath", `"$wine64" winepath`,
	"$wine winepath", `"$wine" winepath`,
	"$wine reg", `"$wine" reg`,
)

// rewriteSetupScript points setup_dxvk.sh at the given runner.
func rewriteSetupScript(script string, w Wine) string {
	script = wineAssign.ReplaceAllLiteralString(script, fmt.Sprintf(`wine="%s"`, w.Wine))
	script = wine64Assign.ReplaceAllLiteralString(script, fmt.Sprintf(`wine64="%s"`, w.Wine64))
	script = winebootAssign.ReplaceAllLiteralString(script, fmt.Sprintf(`wineboot="%s"`, w.Wineboot))
	return quoteFixes.Replace(script)
}

// Apply installs the DXVK build v into the wine prefix using the runner w.
func (p *Provider) Apply(ctx context.Context, prefix, v string, w Wine) error {
	dir := p.Path(DXVK{Version: v})
	scriptPath := filepath.Join(dir, setupScript)

	raw, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", scriptPath, err)
	}
	if err := os.WriteFile(scriptPath, []byte(rewriteSetupScript(string(raw), w)), 0755); err != nil {
		return fmt.Errorf("failed to update %s: %w", scriptPath, err)
	}
	if err := platform.EnsureExecutable(scriptPath); err != nil {
		return err
	}

	alias := "true"
	if w.Winecfg != "" {
		alias = fmt.Sprintf(`alias winecfg="%s"`, w.Winecfg)
	}
	res, err := p.run(ctx, process.Command{
		Path: "sh",
		Args: []string{"-c", alias + ";./" + setupScript + " install"},
		Dir:  dir,
		Env: map[string]string{
			"WINE":       w.Wine64,
			"WINESERVER": w.Wineserver,
			"WINEPREFIX": prefix,
		},
	})
	entry := log.WithField("dxvk", v)
	for _, line := range res.Output {
		entry.Debug(line)
	}
	if err != nil {
		return fmt.Errorf("failed to apply dxvk %s to %s: %w", v, prefix, err)
	}
	entry.Infof("applied to %s", prefix)
	return nil
}
