package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"engine", []string{"engine"}},
		{"engine.maxConcurrent", []string{"engine", "maxConcurrent"}},
		{"rateLimit.limits.run", []string{"rateLimit", "limits", "run"}},
		{"", nil},
		{"engine..timeoutMs", nil},
		{".engine", nil},
		{"engine.", nil},
		{"wallet.__proto__.x", nil},
		{"prototype", nil},
		{"ledger.constructor", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.want == nil {
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// rawConfig mirrors what LoadRaw returns for a small config file.
func rawConfig() map[string]any {
	return map[string]any{
		"engine": map[string]any{"maxConcurrent": 10, "timeoutMs": 30000},
		"rateLimit": map[string]any{
			"driver": "memory",
			"limits": map[string]any{"run": 30, "invest": 20},
		},
		"ledger": "unexpected-scalar",
	}
}

func TestGetValueAtPath(t *testing.T) {
	root := rawConfig()
	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"engine.maxConcurrent", 10, true},
		{"rateLimit.limits.invest", 20, true},
		{"ledger", "unexpected-scalar", true},
		{"store", nil, false},
		{"rateLimit.limits.withdraw", nil, false},
		{"ledger.payoutAsset", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			path, err := ParseConfigPath(tt.path)
			require.NoError(t, err)
			got, ok := GetValueAtPath(root, path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetValueAtPath(t *testing.T) {
	root := rawConfig()

	SetValueAtPath(root, []string{"engine", "maxConcurrent"}, 4)
	SetValueAtPath(root, []string{"wallet", "addresses", "alice"}, "0xabc")
	SetValueAtPath(root, []string{"ledger", "payoutAsset"}, "STX")
	SetValueAtPath(root, []string{"logging"}, "debug")

	for path, want := range map[string]any{
		"engine.maxConcurrent":   4,
		"engine.timeoutMs":       30000,
		"wallet.addresses.alice": "0xabc",
		"ledger.payoutAsset":     "STX",
		"logging":                "debug",
	} {
		got, ok := GetValueAtPath(root, mustPath(t, path))
		assert.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
}

func TestUnsetValueAtPath(t *testing.T) {
	root := rawConfig()

	assert.True(t, UnsetValueAtPath(root, []string{"rateLimit", "limits", "run"}))
	_, ok := GetValueAtPath(root, []string{"rateLimit", "limits", "run"})
	assert.False(t, ok)
	got, _ := GetValueAtPath(root, []string{"rateLimit", "limits", "invest"})
	assert.Equal(t, 20, got, "siblings survive")

	assert.False(t, UnsetValueAtPath(root, []string{"rateLimit", "limits", "run"}))
	assert.False(t, UnsetValueAtPath(root, []string{"store", "path"}))
	assert.False(t, UnsetValueAtPath(root, []string{"ledger", "payoutAsset"}))
}

func mustPath(t *testing.T, raw string) []string {
	t.Helper()
	p, err := ParseConfigPath(raw)
	require.NoError(t, err)
	return p
}

// --- ResolvePaths extended tests ---

func TestResolvePaths_AllFields(t *testing.T) {
	t.Setenv("SWARM_HOME", "")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".swarm"), paths.Base)
	assert.Equal(t, filepath.Join(home, ".swarm", "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(home, ".swarm", "data"), paths.Data)
	assert.Equal(t, filepath.Join(home, ".swarm", "logs"), paths.Logs)
	assert.Equal(t, filepath.Join(home, ".swarm", "workflows"), paths.Workflows)
}

func TestResolvePaths_CustomHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("SWARM_HOME", tmp)

	paths, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, tmp, paths.Base)
	assert.Equal(t, filepath.Join(tmp, "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(tmp, "data"), paths.Data)
}

func TestEnsureDirs_CreatesAll(t *testing.T) {
	t.Setenv("SWARM_HOME", t.TempDir())
	paths, err := ResolvePaths()
	require.NoError(t, err)

	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs()) // second call should succeed

	for _, dir := range []string{paths.Base, paths.Data, paths.Logs, paths.Workflows} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestStoreDSN(t *testing.T) {
	paths := Paths{Data: "/srv/swarm/data"}
	assert.Equal(t, "/srv/swarm/data/swarm.db", paths.StoreDSN(StoreConfig{Driver: "sqlite"}))
	assert.Equal(t, "/tmp/x.db", paths.StoreDSN(StoreConfig{Driver: "sqlite", Path: "/tmp/x.db"}))
	assert.Equal(t, "u:p@/swarm", paths.StoreDSN(StoreConfig{Driver: "mysql", DSN: "u:p@/swarm", Path: "/ignored"}))
}

// --- blockedKeys tests ---

func TestBlockedKeys(t *testing.T) {
	assert.True(t, blockedKeys["__proto__"])
	assert.True(t, blockedKeys["prototype"])
	assert.True(t, blockedKeys["constructor"])
	assert.False(t, blockedKeys["gateway"])
	assert.False(t, blockedKeys["port"])
}
