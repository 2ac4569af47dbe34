package launcher

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"radish/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLauncherConfig 用 shell 脚本替代真实 ASGI 服务器运行时
func testLauncherConfig(t *testing.T, script string) *common.LauncherConfig {
	t.Helper()
	return &common.LauncherConfig{
		RuntimeCommand:  "/bin/sh",
		RuntimeArgs:     []string{"-c", script},
		Host:            "127.0.0.1",
		Port:            8080,
		StartupTimeout:  5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
		LogDir:          t.TempDir(),
		LogMaxSizeMB:    10,
		LogMaxBackups:   1,
	}
}

// newImageDir 构造带可解析入口的镜像目录
func newImageDir(t *testing.T) string {
	t.Helper()
	imageDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(imageDir, "app"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(imageDir, "env"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(imageDir, "app", "run.py"), []byte("app = object()\n"), 0644))
	return imageDir
}

// freePort 取一个当前空闲的端口
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestStartServesAndStopsCleanly(t *testing.T) {
	// 用 python 充当真正绑定端口的承载运行时
	script := `exec python3 -c "import socket,time;s=socket.socket();s.setsockopt(socket.SOL_SOCKET,socket.SO_REUSEADDR,1);s.bind(('{host}',{port}));s.listen(1);time.sleep(60)"`
	l := NewLauncher(testLauncherConfig(t, script))

	spec := common.LaunchSpec{
		Entrypoint: "run:app",
		Host:       "127.0.0.1",
		Port:       freePort(t),
		ImageDir:   newImageDir(t),
	}

	require.NoError(t, l.Start(context.Background(), spec))
	assert.Equal(t, common.LaunchStateServing, l.State())

	// 就绪后端口必须真正可连
	conn, err := net.DialTimeout("tcp", dialAddr(spec), 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.NoError(t, l.Stop(context.Background()))
	assert.Equal(t, common.LaunchStateTerminated, l.State())

	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("runtime process was not reaped after stop")
	}
}

func TestStartFailsWhenEntrypointMissing(t *testing.T) {
	l := NewLauncher(testLauncherConfig(t, "sleep 30"))

	spec := common.LaunchSpec{
		Entrypoint: "run:app",
		Host:       "127.0.0.1",
		Port:       freePort(t),
		ImageDir:   t.TempDir(), // 没有 app/run.py
	}

	err := l.Start(context.Background(), spec)

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrEntrypointNotFound)
	assert.Equal(t, common.LaunchStateFailed, l.State())
}

func TestStartFailsWhenPortOccupied(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	l := NewLauncher(testLauncherConfig(t, "sleep 30"))

	spec := common.LaunchSpec{
		Entrypoint: "run:app",
		Host:       "127.0.0.1",
		Port:       port,
		ImageDir:   newImageDir(t),
	}

	err = l.Start(context.Background(), spec)

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPortInUse)
	assert.Equal(t, common.LaunchStateFailed, l.State())
}

func TestStartFailsWhenRuntimeExitsEarly(t *testing.T) {
	// 模拟 run:missing_app 场景：运行时解析属性失败直接退出
	l := NewLauncher(testLauncherConfig(t, "echo 'attribute not found' >&2; exit 7"))

	spec := common.LaunchSpec{
		Entrypoint: "run:app",
		Host:       "127.0.0.1",
		Port:       freePort(t),
		ImageDir:   newImageDir(t),
	}

	err := l.Start(context.Background(), spec)

	require.Error(t, err)
	assert.Equal(t, common.LaunchStateFailed, l.State())
	assert.Equal(t, 7, l.ExitCode())
}

func TestStartFailsWhenStartupWindowElapses(t *testing.T) {
	config := testLauncherConfig(t, "sleep 30")
	config.StartupTimeout = 500 * time.Millisecond

	l := NewLauncher(config)

	spec := common.LaunchSpec{
		Entrypoint: "run:app",
		Host:       "127.0.0.1",
		Port:       freePort(t),
		ImageDir:   newImageDir(t),
	}

	err := l.Start(context.Background(), spec)

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrStartupTimeout)
	assert.Equal(t, common.LaunchStateFailed, l.State())

	// 超时后子进程组必须已被结束
	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("runtime process was not reaped after startup timeout")
	}
}

func TestStartRejectsSecondProcess(t *testing.T) {
	l := NewLauncher(testLauncherConfig(t, "exit 0"))

	spec := common.LaunchSpec{
		Entrypoint: "run:app",
		Host:       "127.0.0.1",
		Port:       freePort(t),
		ImageDir:   newImageDir(t),
	}

	_ = l.Start(context.Background(), spec)

	err := l.Start(context.Background(), spec)
	assert.ErrorIs(t, err, common.ErrLauncherBusy)
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	l := NewLauncher(testLauncherConfig(t, "sleep 30"))

	spec := common.LaunchSpec{
		Entrypoint: "run:app",
		Host:       "127.0.0.1",
		Port:       70000,
		ImageDir:   newImageDir(t),
	}

	err := l.Start(context.Background(), spec)

	require.Error(t, err)
	var validationErr *common.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestWaitForReadyDetectsListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	l := NewLauncher(testLauncherConfig(t, "sleep 30"))

	assert.NoError(t, l.waitForReady(ln.Addr().String(), 2*time.Second))
}

func TestBuildArgsExpandsPlaceholders(t *testing.T) {
	config := testLauncherConfig(t, "unused")
	config.RuntimeArgs = []string{"{entrypoint}", "--host", "{host}", "--port", "{port}"}

	l := NewLauncher(config)

	spec := common.LaunchSpec{
		Entrypoint: "run:app",
		Host:       "0.0.0.0",
		Port:       8080,
	}
	entrypoint, err := ParseEntrypoint(spec.Entrypoint)
	require.NoError(t, err)

	args := l.buildArgs(entrypoint, spec)
	assert.Equal(t, []string{"run:app", "--host", "0.0.0.0", "--port", "8080"}, args)

	spec.ProxyHeaders = true
	args = l.buildArgs(entrypoint, spec)
	assert.Contains(t, args, "--proxy-headers")
}

func TestBuildEnvExposesImageEnv(t *testing.T) {
	l := NewLauncher(testLauncherConfig(t, "unused"))

	imageDir := newImageDir(t)
	spec := common.LaunchSpec{ImageDir: imageDir}

	env := l.buildEnv(spec)

	envDir := filepath.Join(imageDir, "env")
	assert.Contains(t, env, "PYTHONPATH="+envDir)

	foundPath := false
	for _, kv := range env {
		if kv == "PATH="+filepath.Join(envDir, "bin")+string(os.PathListSeparator)+os.Getenv("PATH") {
			foundPath = true
		}
	}
	assert.True(t, foundPath, "PATH should start with the image env bin directory")
}

func TestStopIsIdempotentBeforeStart(t *testing.T) {
	l := NewLauncher(testLauncherConfig(t, "sleep 30"))

	assert.NoError(t, l.Stop(context.Background()))
}

func TestStopBeforeProcessSpawnedDoesNotSignal(t *testing.T) {
	l := NewLauncher(testLauncherConfig(t, "sleep 30"))

	// 模拟 Stop 赶在 cmd.Start 之前的窗口：状态已进入 STARTING
	// 但 pid 仍为 0。此时不得发信号（Kill(-0) 会打到自身进程组），
	// 也不得阻塞等待一个不会被关闭的 done
	l.mu.Lock()
	l.state = common.LaunchStateStarting
	l.mu.Unlock()

	stopped := make(chan error, 1)
	go func() {
		stopped <- l.Stop(context.Background())
	}()

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked with no spawned process")
	}
}

func TestFailedStartClosesDone(t *testing.T) {
	l := NewLauncher(testLauncherConfig(t, "sleep 30"))

	spec := common.LaunchSpec{
		Entrypoint: "run:app",
		Host:       "127.0.0.1",
		Port:       freePort(t),
		ImageDir:   t.TempDir(), // 没有 app/run.py
	}

	require.Error(t, l.Start(context.Background(), spec))

	// 没有子进程可 reap 时 Wait/Done 也必须能返回
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after failed start without a child process")
	}
	assert.Equal(t, 0, l.Wait())
}

func TestDialAddrMapsWildcardToLoopback(t *testing.T) {
	spec := common.LaunchSpec{Host: "0.0.0.0", Port: 8080}
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(8080)), dialAddr(spec))

	spec.Host = "10.0.0.5"
	assert.Equal(t, "10.0.0.5:8080", dialAddr(spec))
}
