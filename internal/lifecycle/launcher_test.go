package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLauncher(t *testing.T) {
	tests := []struct {
		name      string
		script    string
		launchers map[string]string
		wantPath  string
		wantArgs  []string
		wantErr   bool
	}{
		{name: "python", script: "server.py", wantPath: "python3", wantArgs: []string{"server.py"}},
		{name: "node", script: "/srv/server.js", wantPath: "node", wantArgs: []string{"/srv/server.js"}},
		{name: "module js", script: "server.mjs", wantPath: "node", wantArgs: []string{"server.mjs"}},
		{name: "upper case extension", script: "SERVER.PY", wantPath: "python3", wantArgs: []string{"SERVER.PY"}},
		{name: "override", script: "server.py", launchers: map[string]string{".py": "uv run"}, wantPath: "uv", wantArgs: []string{"run", "server.py"}},
		{name: "extra extension", script: "server.ts", launchers: map[string]string{".ts": "deno run"}, wantPath: "deno", wantArgs: []string{"run", "server.ts"}},
		{name: "disabled", script: "server.js", launchers: map[string]string{".js": ""}, wantErr: true},
		{name: "unknown", script: "server.rb", wantErr: true},
		{name: "no extension", script: "server", wantErr: true},
		{name: "empty", script: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ResolveLauncher(tt.script, tt.launchers)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnsupportedScript))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, cmd.Path)
			assert.Equal(t, tt.wantArgs, cmd.Args)
		})
	}
}

func TestResolveLauncher_ErrorListsExtensions(t *testing.T) {
	_, err := ResolveLauncher("x.rb", map[string]string{".js": ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".mjs, .py")
	assert.NotContains(t, err.Error(), ".js,")
}
