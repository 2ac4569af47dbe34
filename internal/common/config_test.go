package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := GetDefaultConfig()

	assert.Equal(t, "0.0.0.0", config.Launcher.Host)
	assert.Equal(t, 8080, config.Launcher.Port)
	assert.False(t, config.Launcher.ProxyHeaders)
	assert.Equal(t, "uvicorn", config.Launcher.RuntimeCommand)

	assert.Equal(t, "pip", config.Builder.InstallerCommand)
	assert.Contains(t, config.Builder.InstallerArgs, "{manifest}")
	assert.Contains(t, config.Builder.InstallerArgs, "{env}")
	assert.Equal(t, 30*time.Minute, config.Builder.InstallTimeout)

	assert.False(t, config.Events.Enabled)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
launcher:
  host: 127.0.0.1
  port: 9000
  proxy_headers: true
builder:
  installer_command: pip3
events:
  enabled: true
  brokers:
    - kafka-1:9092
  topic: deploy-events
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", config.Launcher.Host)
	assert.Equal(t, 9000, config.Launcher.Port)
	assert.True(t, config.Launcher.ProxyHeaders)
	assert.Equal(t, "pip3", config.Builder.InstallerCommand)
	assert.True(t, config.Events.Enabled)
	assert.Equal(t, []string{"kafka-1:9092"}, config.Events.Brokers)

	// 未覆盖的字段保留默认值
	assert.Equal(t, "uvicorn", config.Launcher.RuntimeCommand)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("launcher: ["), 0644))

	_, err := LoadConfig(path)

	assert.Error(t, err)
}
