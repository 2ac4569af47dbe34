package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"radish/internal/agent/server"
	"radish/internal/builder"
	"radish/internal/common"
	"radish/internal/events"
	"radish/internal/launcher"

	"go.uber.org/zap"
)

// Agent 构建与启动监督器
//
// 通过 HTTP API 接收构建与启动请求，持有所有活动启动器，
// 关闭时先停掉托管的服务进程再关闭 HTTP 服务。
type Agent struct {
	mu        sync.RWMutex
	config    *common.Config
	builder   *builder.Builder
	publisher *events.Publisher
	builds    map[string]*common.BuildResult
	launches  map[string]*launcher.Launcher

	httpServer *server.HTTPServer
	logger     *zap.Logger
	startTime  time.Time
}

// NewAgent 创建 Agent
func NewAgent(config *common.Config) (*Agent, error) {
	if config == nil {
		config = common.GetDefaultConfig()
	}

	b, err := builder.NewBuilder(&config.Builder)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		config:    config,
		builder:   b,
		publisher: events.NewPublisher(&config.Events),
		builds:    make(map[string]*common.BuildResult),
		launches:  make(map[string]*launcher.Launcher),
		logger:    common.ComponentLogger("agent"),
		startTime: time.Now(),
	}
	a.httpServer = server.NewHTTPServer(a, a.logger)

	return a, nil
}

// Start 启动 Agent HTTP 服务（阻塞直至服务关闭）
func (a *Agent) Start(port int) error {
	addr := fmt.Sprintf("%s:%d", a.config.Agent.Address, port)
	a.logger.Info("Agent starting", zap.String("addr", addr))
	return a.httpServer.Start(addr)
}

// Stop 停止 Agent
func (a *Agent) Stop() error {
	a.logger.Info("Agent stopping")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.mu.RLock()
	active := make([]*launcher.Launcher, 0, len(a.launches))
	for _, l := range a.launches {
		active = append(active, l)
	}
	a.mu.RUnlock()

	for _, l := range active {
		if err := l.Stop(ctx); err != nil {
			a.logger.Error("Failed to stop launch", zap.Error(err))
		}
	}

	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("Failed to close event publisher", zap.Error(err))
	}

	return a.httpServer.Stop()
}

// SubmitBuild 提交异步构建
func (a *Agent) SubmitBuild(request common.BuildRequest) (string, error) {
	if err := common.ValidateBuildRequest(request); err != nil {
		return "", err
	}

	id := fmt.Sprintf("build_%d", time.Now().UnixNano())
	pending := &common.BuildResult{
		ID:        id,
		ImageDir:  request.ImageDir,
		State:     common.BuildStatePending,
		StartTime: time.Now(),
	}

	a.mu.Lock()
	a.builds[id] = pending
	a.mu.Unlock()

	a.publisher.Publish(context.Background(), events.Event{
		Type:     events.EventBuildStarted,
		BuildID:  id,
		ImageDir: request.ImageDir,
	})

	go a.runBuild(id, request)

	return id, nil
}

// runBuild 执行构建并发布完成事件
func (a *Agent) runBuild(id string, request common.BuildRequest) {
	result, err := a.builder.Build(context.Background(), request)
	result.ID = id

	a.mu.Lock()
	a.builds[id] = result
	a.mu.Unlock()

	event := events.Event{
		Type:     events.EventBuildCompleted,
		BuildID:  id,
		ImageDir: request.ImageDir,
	}
	if err != nil {
		event.Type = events.EventBuildFailed
		event.Details = map[string]string{"error": err.Error()}
	}
	a.publisher.Publish(context.Background(), event)
}

// GetBuild 查询构建结果
func (a *Agent) GetBuild(id string) (*common.BuildResult, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	result, exists := a.builds[id]
	return result, exists
}

// ListBuilds 列出全部构建
func (a *Agent) ListBuilds() []*common.BuildResult {
	a.mu.RLock()
	defer a.mu.RUnlock()

	results := make([]*common.BuildResult, 0, len(a.builds))
	for _, result := range a.builds {
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].StartTime.Before(results[j].StartTime)
	})
	return results
}

// StartLaunch 启动一个服务进程
func (a *Agent) StartLaunch(spec common.LaunchSpec) (string, error) {
	if err := common.ValidateLaunchSpec(spec); err != nil {
		return "", err
	}

	id := fmt.Sprintf("launch_%d", time.Now().UnixNano())
	l := launcher.NewLauncher(&a.config.Launcher)

	a.mu.Lock()
	a.launches[id] = l
	a.mu.Unlock()

	a.publisher.Publish(context.Background(), events.Event{
		Type:     events.EventLaunchStarting,
		LaunchID: id,
		ImageDir: spec.ImageDir,
	})

	go func() {
		if err := l.Start(context.Background(), spec); err != nil {
			a.logger.Error("Launch failed",
				zap.String("launch_id", id),
				zap.Error(err))
			a.publisher.Publish(context.Background(), events.Event{
				Type:     events.EventLaunchTerminated,
				LaunchID: id,
				Details:  map[string]string{"error": err.Error()},
			})
			return
		}

		a.publisher.Publish(context.Background(), events.Event{
			Type:     events.EventLaunchServing,
			LaunchID: id,
		})

		l.Wait()
		a.publisher.Publish(context.Background(), events.Event{
			Type:     events.EventLaunchTerminated,
			LaunchID: id,
			Details:  map[string]string{"exit_code": fmt.Sprintf("%d", l.ExitCode())},
		})
	}()

	return id, nil
}

// GetLaunch 查询启动状态
func (a *Agent) GetLaunch(id string) (*common.LaunchStatus, bool) {
	a.mu.RLock()
	l, exists := a.launches[id]
	a.mu.RUnlock()

	if !exists {
		return nil, false
	}

	status := l.Status()
	status.ID = id
	return &status, true
}

// ListLaunches 列出全部启动
func (a *Agent) ListLaunches() []*common.LaunchStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	statuses := make([]*common.LaunchStatus, 0, len(a.launches))
	for id, l := range a.launches {
		status := l.Status()
		status.ID = id
		statuses = append(statuses, &status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].StartTime.Before(statuses[j].StartTime)
	})
	return statuses
}

// StopLaunch 停止指定启动
func (a *Agent) StopLaunch(id string) error {
	a.mu.RLock()
	l, exists := a.launches[id]
	a.mu.RUnlock()

	if !exists {
		return fmt.Errorf("launch not found: %s", id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return l.Stop(ctx)
}

// GetLaunchLogs 读取指定启动的输出日志
func (a *Agent) GetLaunchLogs(id, logType string, lines int) ([]string, error) {
	a.mu.RLock()
	l, exists := a.launches[id]
	a.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("launch not found: %s", id)
	}
	if lines <= 0 {
		lines = 100
	}
	return l.Logs(logType, lines)
}

// GetInfo 获取 Agent 概要信息
func (a *Agent) GetInfo() map[string]interface{} {
	a.mu.RLock()
	buildCount := len(a.builds)
	launchCount := len(a.launches)
	a.mu.RUnlock()

	return map[string]interface{}{
		"address":      a.config.Agent.Address,
		"port":         a.config.Agent.Port,
		"build_count":  buildCount,
		"launch_count": launchCount,
		"uptime":       time.Since(a.startTime).String(),
		"metrics":      common.GetMetrics().Snapshot(),
	}
}
