package launcher

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"radish/internal/common"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
)

// Launcher 服务进程启动器
//
// 一个启动器实例至多管理一个长驻服务进程。启动序列：
// 校验配置、解析入口、预检端口、拉起承载运行时、等待端口
// 就绪，全部成功后进入 SERVING。任何一步失败都立即失败，
// 不绑定监听、不做重试（重启策略属于外部编排方）。
type Launcher struct {
	mu     sync.RWMutex
	config *common.LauncherConfig
	logger *zap.Logger

	id            string
	spec          common.LaunchSpec
	cmd           *exec.Cmd
	state         common.LaunchState
	pid           int
	exitCode      int
	stopRequested bool
	startTime     time.Time
	endTime       time.Time

	stdoutLog *lumberjack.Logger
	stderrLog *lumberjack.Logger

	done chan struct{}
}

// NewLauncher 创建启动器
func NewLauncher(config *common.LauncherConfig) *Launcher {
	if config == nil {
		defaults := common.GetDefaultConfig().Launcher
		config = &defaults
	}

	return &Launcher{
		config: config,
		logger: common.ComponentLogger("launcher"),
		done:   make(chan struct{}),
	}
}

// Start 启动服务进程并等待其进入 SERVING
func (l *Launcher) Start(ctx context.Context, spec common.LaunchSpec) error {
	l.mu.Lock()
	if l.state != "" {
		l.mu.Unlock()
		return common.ErrLauncherBusy
	}
	l.id = fmt.Sprintf("launch_%d", time.Now().UnixNano())
	l.spec = spec
	l.state = common.LaunchStateStarting
	l.startTime = time.Now()
	l.mu.Unlock()

	common.GetMetrics().RecordLaunchStarted()

	l.logger.Info("Launch starting",
		zap.String("launch_id", l.id),
		zap.String("entrypoint", spec.Entrypoint),
		zap.String("host", spec.Host),
		zap.Int("port", spec.Port),
		zap.Bool("proxy_headers", spec.ProxyHeaders))

	if err := common.ValidateLaunchSpec(spec); err != nil {
		return l.failStart(err)
	}

	entrypoint, err := ParseEntrypoint(spec.Entrypoint)
	if err != nil {
		return l.failStart(err)
	}

	moduleFile, err := entrypoint.Resolve(spec.AppDir())
	if err != nil {
		return l.failStart(err)
	}
	l.logger.Debug("Entrypoint resolved",
		zap.String("module_file", moduleFile))

	bindAddr := net.JoinHostPort(spec.Host, strconv.Itoa(spec.Port))
	if err := preflightBind(bindAddr); err != nil {
		return l.failStart(err)
	}

	if err := l.prepareLogFiles(); err != nil {
		return l.failStart(err)
	}

	cmd := exec.Command(l.config.RuntimeCommand, l.buildArgs(entrypoint, spec)...)
	cmd.Dir = spec.AppDir()
	cmd.Env = l.buildEnv(spec)
	cmd.Stdout = l.stdoutLog
	cmd.Stderr = l.stderrLog
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		return l.failStart(fmt.Errorf("failed to start runtime process: %w", err))
	}

	l.mu.Lock()
	l.cmd = cmd
	l.pid = cmd.Process.Pid
	l.mu.Unlock()

	l.logger.Info("Runtime process started",
		zap.String("launch_id", l.id),
		zap.Int("pid", cmd.Process.Pid))

	go l.reap()

	if err := l.waitForReady(dialAddr(spec), l.config.StartupTimeout); err != nil {
		l.killProcessGroup()
		<-l.done
		return l.failStart(err)
	}

	l.mu.Lock()
	l.state = common.LaunchStateServing
	l.mu.Unlock()

	l.logger.Info("Serving",
		zap.String("launch_id", l.id),
		zap.String("addr", bindAddr))

	return nil
}

// Stop 优雅停止服务进程
//
// 先向进程组发送 SIGTERM，超过 shutdown 窗口仍未退出则
// SIGKILL。对已结束的启动器调用是幂等的。
func (l *Launcher) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.state != common.LaunchStateStarting && l.state != common.LaunchStateServing {
		l.mu.Unlock()
		return nil
	}
	l.stopRequested = true
	pid := l.pid
	l.mu.Unlock()

	// 子进程尚未拉起时没有可终止的目标；pid 为 0 时
	// Kill(-0) 会把信号发给调用方自身的进程组
	if pid <= 0 {
		return nil
	}

	l.logger.Info("Stopping runtime process",
		zap.String("launch_id", l.id),
		zap.Int("pid", pid))

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		l.logger.Warn("Failed to send SIGTERM", zap.Error(err))
	}

	timeout := l.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	select {
	case <-l.done:
	case <-time.After(timeout):
		l.logger.Warn("Shutdown window elapsed, sending SIGKILL",
			zap.String("launch_id", l.id))
		l.killProcessGroup()
		<-l.done
	case <-ctx.Done():
		l.killProcessGroup()
		<-l.done
	}

	return nil
}

// Wait 等待服务进程退出并返回退出码
func (l *Launcher) Wait() int {
	<-l.done
	return l.ExitCode()
}

// Done 进程退出通知
func (l *Launcher) Done() <-chan struct{} {
	return l.done
}

// State 当前状态
func (l *Launcher) State() common.LaunchState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// ExitCode 子进程退出码
func (l *Launcher) ExitCode() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.exitCode
}

// Status 获取状态快照
func (l *Launcher) Status() common.LaunchStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return common.LaunchStatus{
		ID:        l.id,
		Spec:      l.spec,
		State:     l.state,
		PID:       l.pid,
		ExitCode:  l.exitCode,
		StartTime: l.startTime,
		EndTime:   l.endTime,
	}
}

// Logs 读取子进程输出的最后 N 行
func (l *Launcher) Logs(logType string, lines int) ([]string, error) {
	var target *lumberjack.Logger
	switch logType {
	case "stdout", "":
		target = l.stdoutLog
	case "stderr":
		target = l.stderrLog
	default:
		return nil, common.NewValidationError("log_type", "must be stdout or stderr", logType)
	}
	if target == nil {
		return nil, fmt.Errorf("no log file available")
	}

	file, err := os.Open(target.Filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var allLines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		allLines = append(allLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	start := len(allLines) - lines
	if start < 0 {
		start = 0
	}
	return allLines[start:], nil
}

// reap 等待子进程结束并记录退出状态
func (l *Launcher) reap() {
	err := l.cmd.Wait()

	l.mu.Lock()
	if l.cmd.ProcessState != nil {
		l.exitCode = l.cmd.ProcessState.ExitCode()
	} else if err != nil {
		l.exitCode = 1
	}
	if l.state == common.LaunchStateServing {
		l.state = common.LaunchStateTerminated
	}
	l.endTime = time.Now()
	exitCode := l.exitCode
	stopRequested := l.stopRequested
	l.mu.Unlock()

	if l.stdoutLog != nil {
		l.stdoutLog.Close()
	}
	if l.stderrLog != nil {
		l.stderrLog.Close()
	}

	common.GetMetrics().RecordLaunchFinished(!stopRequested && exitCode != 0)

	l.logger.Info("Runtime process finished",
		zap.String("launch_id", l.id),
		zap.Int("exit_code", exitCode),
		zap.Bool("stop_requested", stopRequested))

	close(l.done)
}

// failStart 标记启动失败
func (l *Launcher) failStart(err error) error {
	l.mu.Lock()
	l.state = common.LaunchStateFailed
	l.endTime = time.Now()
	started := l.cmd != nil
	l.mu.Unlock()

	// 进程已拉起时由 reap 负责计数并关闭 done，避免重复；
	// 未拉起时在此收尾，让 Wait/Done 的调用方不被永久阻塞
	if !started {
		common.GetMetrics().RecordLaunchFinished(true)
		close(l.done)
	}

	l.logger.Error("Launch failed",
		zap.String("launch_id", l.id),
		zap.Error(err))

	return err
}

// waitForReady 在启动窗口内轮询监听端口
func (l *Launcher) waitForReady(addr string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
			if err == nil {
				conn.Close()
				return nil
			}
		case <-l.done:
			return fmt.Errorf("runtime process exited before binding %s (exit code %d)",
				addr, l.ExitCode())
		case <-deadline:
			return fmt.Errorf("%w: %s not accepting connections after %s",
				common.ErrStartupTimeout, addr, timeout)
		}
	}
}

// killProcessGroup 强制结束子进程组
func (l *Launcher) killProcessGroup() {
	l.mu.RLock()
	pid := l.pid
	l.mu.RUnlock()

	if pid <= 0 {
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		l.logger.Warn("Failed to kill process group",
			zap.Int("pid", pid),
			zap.Error(err))
	}
}

// buildArgs 组装承载运行时的命令参数
func (l *Launcher) buildArgs(entrypoint Entrypoint, spec common.LaunchSpec) []string {
	args := make([]string, 0, len(l.config.RuntimeArgs)+1)
	for _, arg := range l.config.RuntimeArgs {
		arg = strings.ReplaceAll(arg, "{entrypoint}", entrypoint.String())
		arg = strings.ReplaceAll(arg, "{host}", spec.Host)
		arg = strings.ReplaceAll(arg, "{port}", strconv.Itoa(spec.Port))
		args = append(args, arg)
	}
	if spec.ProxyHeaders {
		args = append(args, "--proxy-headers")
	}
	return args
}

// buildEnv 组装子进程环境变量
//
// 镜像 env 目录放进 PYTHONPATH，其 bin 子目录放进 PATH，
// 使得钉定安装的运行时与依赖对子进程可见。
func (l *Launcher) buildEnv(spec common.LaunchSpec) []string {
	env := os.Environ()

	envDir := spec.EnvDir()
	pythonPath := envDir
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		pythonPath = envDir + string(os.PathListSeparator) + existing
	}
	env = append(env, "PYTHONPATH="+pythonPath)

	binDir := filepath.Join(envDir, "bin")
	env = append(env, "PATH="+binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	return env
}

// prepareLogFiles 准备滚动日志文件
func (l *Launcher) prepareLogFiles() error {
	logDir := filepath.Join(l.config.LogDir, l.id)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	l.stdoutLog = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "stdout.log"),
		MaxSize:    l.config.LogMaxSizeMB,
		MaxBackups: l.config.LogMaxBackups,
	}
	l.stderrLog = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "stderr.log"),
		MaxSize:    l.config.LogMaxSizeMB,
		MaxBackups: l.config.LogMaxBackups,
	}
	return nil
}

// preflightBind 预检端口是否空闲
func preflightBind(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrPortInUse, addr, err)
	}
	return ln.Close()
}

// dialAddr 就绪探测使用的地址（通配地址探测回环）
func dialAddr(spec common.LaunchSpec) string {
	host := spec.Host
	if host == "0.0.0.0" || host == "::" || host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(spec.Port))
}
