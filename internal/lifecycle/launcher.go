package lifecycle

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Bigsy/toolwire/internal/process"
)

// ErrUnsupportedScript is returned for scripts with no configured launcher.
var ErrUnsupportedScript = errors.New("unsupported script type")

// DefaultLaunchers maps script extensions to interpreters.
var DefaultLaunchers = map[string]string{
	".py":  "python3",
	".js":  "node",
	".mjs": "node",
}

// ResolveLauncher builds the command that runs script. launchers overrides
// DefaultLaunchers per extension; an empty value disables an extension.
func ResolveLauncher(script string, launchers map[string]string) (process.Command, error) {
	if script == "" {
		return process.Command{}, fmt.Errorf("%w: empty script path", ErrUnsupportedScript)
	}
	ext := strings.ToLower(filepath.Ext(script))

	launcher, ok := launchers[ext]
	if !ok {
		launcher, ok = DefaultLaunchers[ext]
	}
	if !ok || launcher == "" {
		return process.Command{}, fmt.Errorf("%w: %s (want one of %s)", ErrUnsupportedScript, script, knownExtensions(launchers))
	}

	fields := strings.Fields(launcher)
	return process.Command{
		Path: fields[0],
		Args: append(fields[1:], script),
	}, nil
}

func knownExtensions(launchers map[string]string) string {
	merged := maps.Clone(DefaultLaunchers)
	maps.Copy(merged, launchers)
	var exts []string
	for ext, l := range merged {
		if l != "" {
			exts = append(exts, ext)
		}
	}
	slices.Sort(exts)
	return strings.Join(exts, ", ")
}
