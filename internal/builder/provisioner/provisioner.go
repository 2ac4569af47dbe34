package provisioner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"radish/internal/common"

	"go.uber.org/zap"
)

// Provisioner 依赖安装器
//
// 调用外部安装命令把清单中钉定的包装进镜像的 env 目录。
// 安装失败时整个 env 目录被移除，绝不保留半安装状态。
type Provisioner struct {
	config *Config
	logger *zap.Logger
}

// Config 安装器配置
//
// Args 中的 {manifest} 与 {env} 占位符在执行前被替换为
// 清单路径与安装目标目录。
type Config struct {
	Command string        `json:"command"`
	Args    []string      `json:"args"`
	Timeout time.Duration `json:"timeout"`
}

// New 创建依赖安装器
func New(config *Config) *Provisioner {
	if config == nil {
		defaults := common.GetDefaultConfig().Builder
		config = &Config{
			Command: defaults.InstallerCommand,
			Args:    defaults.InstallerArgs,
			Timeout: defaults.InstallTimeout,
		}
	}

	return &Provisioner{
		config: config,
		logger: common.ComponentLogger("provisioner"),
	}
}

// Provision 安装清单钉定的依赖到 envDir
func (p *Provisioner) Provision(ctx context.Context, manifestPath, envDir string) error {
	if err := os.MkdirAll(envDir, 0755); err != nil {
		return fmt.Errorf("failed to create env directory: %w", err)
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	args := p.expandArgs(manifestPath, envDir)
	cmd := exec.CommandContext(ctx, p.config.Command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	p.logger.Info("Installing dependencies",
		zap.String("command", p.config.Command),
		zap.Strings("args", args),
		zap.String("env_dir", envDir))

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		// 清除半安装状态，重建时不会被误判为可用
		if removeErr := os.RemoveAll(envDir); removeErr != nil {
			p.logger.Warn("Failed to remove partial env directory",
				zap.String("env_dir", envDir),
				zap.Error(removeErr))
		}

		p.logger.Error("Dependency install failed",
			zap.Duration("duration", duration),
			zap.String("output", tail(output.String(), 2048)),
			zap.Error(err))

		return fmt.Errorf("%w: %s: %v", common.ErrInstallFailed, tail(output.String(), 512), err)
	}

	p.logger.Info("Dependencies installed",
		zap.String("env_dir", envDir),
		zap.Duration("duration", duration))

	return nil
}

// expandArgs 替换参数模板中的占位符
func (p *Provisioner) expandArgs(manifestPath, envDir string) []string {
	args := make([]string, len(p.config.Args))
	for i, arg := range p.config.Args {
		arg = strings.ReplaceAll(arg, "{manifest}", manifestPath)
		arg = strings.ReplaceAll(arg, "{env}", envDir)
		args[i] = arg
	}
	return args
}

// tail 截取输出末尾，避免日志与错误信息过长
func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
