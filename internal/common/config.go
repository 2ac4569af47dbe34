package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Builder  BuilderConfig  `yaml:"builder"`
	Launcher LauncherConfig `yaml:"launcher"`
	Agent    AgentConfig    `yaml:"agent"`
	Events   EventsConfig   `yaml:"events"`
}

// BuilderConfig 构建流水线配置
type BuilderConfig struct {
	CacheDir         string        `yaml:"cache_dir"`
	InstallerCommand string        `yaml:"installer_command"`
	InstallerArgs    []string      `yaml:"installer_args"`
	InstallTimeout   time.Duration `yaml:"install_timeout"`
	IgnorePatterns   []string      `yaml:"ignore_patterns"`
}

// LauncherConfig 进程启动器配置
type LauncherConfig struct {
	RuntimeCommand  string        `yaml:"runtime_command"`
	RuntimeArgs     []string      `yaml:"runtime_args"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ProxyHeaders    bool          `yaml:"proxy_headers"`
	StartupTimeout  time.Duration `yaml:"startup_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogDir          string        `yaml:"log_dir"`
	LogMaxSizeMB    int           `yaml:"log_max_size_mb"`
	LogMaxBackups   int           `yaml:"log_max_backups"`
}

// AgentConfig Agent HTTP 服务配置
type AgentConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// EventsConfig 生命周期事件发布配置
type EventsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Builder: BuilderConfig{
			CacheDir:         getEnvOrDefault("RADISH_CACHE_DIR", "/tmp/radish/cache"),
			InstallerCommand: "pip",
			InstallerArgs: []string{
				"install",
				"--no-cache-dir",
				"--disable-pip-version-check",
				"--target", "{env}",
				"--requirement", "{manifest}",
			},
			InstallTimeout: 30 * time.Minute,
			IgnorePatterns: []string{".git", "__pycache__", "*.pyc", ".venv"},
		},
		Launcher: LauncherConfig{
			RuntimeCommand: "uvicorn",
			RuntimeArgs: []string{
				"{entrypoint}",
				"--host", "{host}",
				"--port", "{port}",
			},
			Host:            "0.0.0.0",
			Port:            8080,
			ProxyHeaders:    false,
			StartupTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			LogDir:          "/tmp/radish/logs",
			LogMaxSizeMB:    100,
			LogMaxBackups:   3,
		},
		Agent: AgentConfig{
			Address: "0.0.0.0",
			Port:    getEnvIntOrDefault("RADISH_AGENT_PORT", 8042),
		},
		Events: EventsConfig{
			Enabled: false,
			Brokers: splitNonEmpty(getEnvOrDefault("RADISH_KAFKA_BROKERS", "localhost:9092")),
			Topic:   "radish-lifecycle",
		},
	}
}

// LoadConfig 从 YAML 文件加载配置，未设置的字段保留默认值
func LoadConfig(path string) (*Config, error) {
	config := GetDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// getEnvOrDefault 获取环境变量或使用默认值
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault 获取环境变量整数值或使用默认值
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// splitNonEmpty 按逗号拆分并丢弃空项
func splitNonEmpty(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
