package provisioner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"radish/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "requirements.txt")
	require.NoError(t, os.WriteFile(path, []byte("fastapi==0.95.0\n"), 0644))
	return path
}

func TestProvisionRunsInstaller(t *testing.T) {
	manifestPath := writeManifest(t)
	envDir := filepath.Join(t.TempDir(), "env")

	// 用 shell 脚本替代真实安装器，验证占位符展开与执行
	p := New(&Config{
		Command: "/bin/sh",
		Args:    []string{"-c", "cp {manifest} {env}/installed.txt"},
		Timeout: time.Minute,
	})

	err := p.Provision(context.Background(), manifestPath, envDir)

	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(envDir, "installed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fastapi==0.95.0\n", string(data))
}

func TestProvisionFailureRemovesEnvDir(t *testing.T) {
	manifestPath := writeManifest(t)
	envDir := filepath.Join(t.TempDir(), "env")

	p := New(&Config{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo 'ERROR: No matching distribution' && exit 1"},
		Timeout: time.Minute,
	})

	err := p.Provision(context.Background(), manifestPath, envDir)

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInstallFailed)

	// 不允许留下半安装状态
	_, statErr := os.Stat(envDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProvisionErrorIncludesOutput(t *testing.T) {
	manifestPath := writeManifest(t)
	envDir := filepath.Join(t.TempDir(), "env")

	p := New(&Config{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo 'could not resolve pin' >&2; exit 2"},
		Timeout: time.Minute,
	})

	err := p.Provision(context.Background(), manifestPath, envDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not resolve pin")
}

func TestProvisionHonorsContextCancellation(t *testing.T) {
	manifestPath := writeManifest(t)
	envDir := filepath.Join(t.TempDir(), "env")

	p := New(&Config{
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := p.Provision(ctx, manifestPath, envDir)

	assert.Error(t, err)
}
