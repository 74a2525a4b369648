package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackb/incrc/pkg/config"
)

func writeOptions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeOptions(t, `
recompileAllFraction: 0.3
transitiveStep: 5
apiDebug: true
`)
	opts, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.3, opts.RecompileAllFraction)
	assert.Equal(t, 5, opts.TransitiveStep)
	assert.True(t, opts.APIDebug)
	// unset fields keep their defaults
	assert.True(t, opts.RecompileOnMacroDef)
	assert.True(t, opts.UseOptimizedSealed)
}

func TestLoadRejectsOutOfRange(t *testing.T) {
	for name, content := range map[string]string{
		"fraction over one":       "recompileAllFraction: 1.5\n",
		"negative fraction":       "recompileAllFraction: -0.1\n",
		"negative transitiveStep": "transitiveStep: -1\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeOptions(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
