package launcher

import (
	"os"
	"path/filepath"
	"testing"

	"radish/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntrypoint(t *testing.T) {
	entrypoint, err := ParseEntrypoint("run:app")

	require.NoError(t, err)
	assert.Equal(t, "run", entrypoint.Module)
	assert.Equal(t, "app", entrypoint.Attribute)
	assert.Equal(t, "run:app", entrypoint.String())
}

func TestParseEntrypointDottedModule(t *testing.T) {
	entrypoint, err := ParseEntrypoint("agent.server:application")

	require.NoError(t, err)
	assert.Equal(t, "agent.server", entrypoint.Module)
	assert.Equal(t, "application", entrypoint.Attribute)
}

func TestParseEntrypointRejectsMalformed(t *testing.T) {
	cases := []string{
		"run",
		"run:",
		":app",
		"1run:app",
		"run:app.factory",
		"run.:app",
		"run:app()",
	}

	for _, input := range cases {
		_, err := ParseEntrypoint(input)
		assert.ErrorIs(t, err, common.ErrEntrypointInvalid, "input: %s", input)
	}
}

func TestResolveModuleFile(t *testing.T) {
	appDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "run.py"), []byte("app = object()\n"), 0644))

	entrypoint, err := ParseEntrypoint("run:app")
	require.NoError(t, err)

	moduleFile, err := entrypoint.Resolve(appDir)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(appDir, "run.py"), moduleFile)
}

func TestResolvePackageModule(t *testing.T) {
	appDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(appDir, "agent"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "agent", "__init__.py"), nil, 0644))

	entrypoint, err := ParseEntrypoint("agent:root_agent")
	require.NoError(t, err)

	moduleFile, err := entrypoint.Resolve(appDir)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(appDir, "agent", "__init__.py"), moduleFile)
}

func TestResolveMissingModule(t *testing.T) {
	entrypoint, err := ParseEntrypoint("missing:app")
	require.NoError(t, err)

	_, err = entrypoint.Resolve(t.TempDir())

	assert.ErrorIs(t, err, common.ErrEntrypointNotFound)
}

func TestResolveDirectoryWithoutInit(t *testing.T) {
	appDir := t.TempDir()
	// 没有 __init__.py 的目录不算包
	require.NoError(t, os.MkdirAll(filepath.Join(appDir, "agent"), 0755))

	entrypoint, err := ParseEntrypoint("agent:app")
	require.NoError(t, err)

	_, err = entrypoint.Resolve(appDir)

	assert.ErrorIs(t, err, common.ErrEntrypointNotFound)
}
