package common

import (
	"path/filepath"
	"time"
)

// BuildState 构建状态
type BuildState string

const (
	BuildStatePending   BuildState = "PENDING"
	BuildStateRunning   BuildState = "RUNNING"
	BuildStateSucceeded BuildState = "SUCCEEDED"
	BuildStateFailed    BuildState = "FAILED"
)

// LaunchState 启动器状态
//
// 状态机只允许 STARTING -> SERVING -> TERMINATED，
// 启动阶段失败进入 FAILED，不存在任何回退转换。
type LaunchState string

const (
	LaunchStateStarting   LaunchState = "STARTING"
	LaunchStateServing    LaunchState = "SERVING"
	LaunchStateTerminated LaunchState = "TERMINATED"
	LaunchStateFailed     LaunchState = "FAILED"
)

// 构建流水线阶段名称
const (
	StageProvision  = "provision"
	StageCopySource = "copy_source"
)

// BuildRequest 构建请求
type BuildRequest struct {
	ManifestPath string `json:"manifest_path"`
	SourceDir    string `json:"source_dir"`
	ImageDir     string `json:"image_dir"`
}

// StageResult 单个阶段的执行结果
type StageResult struct {
	Name     string        `json:"name"`
	CacheHit bool          `json:"cache_hit"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// BuildResult 构建结果
type BuildResult struct {
	ID             string        `json:"id"`
	ImageDir       string        `json:"image_dir"`
	ManifestDigest string        `json:"manifest_digest"`
	SourceDigest   string        `json:"source_digest"`
	State          BuildState    `json:"state"`
	Stages         []StageResult `json:"stages"`
	StartTime      time.Time     `json:"start_time"`
	CompletionTime time.Time     `json:"completion_time"`
	Diagnostics    string        `json:"diagnostics,omitempty"`
}

// LaunchSpec 启动配置
//
// 在镜像构建完成后固定下来，运行期不可重配。
type LaunchSpec struct {
	Entrypoint   string `json:"entrypoint"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ProxyHeaders bool   `json:"proxy_headers"`
	ImageDir     string `json:"image_dir"`
}

// AppDir 镜像内应用源码目录
func (s LaunchSpec) AppDir() string {
	return filepath.Join(s.ImageDir, "app")
}

// EnvDir 镜像内依赖安装目录
func (s LaunchSpec) EnvDir() string {
	return filepath.Join(s.ImageDir, "env")
}

// LaunchStatus 启动器对外暴露的状态快照
type LaunchStatus struct {
	ID        string      `json:"id"`
	Spec      LaunchSpec  `json:"spec"`
	State     LaunchState `json:"state"`
	PID       int         `json:"pid"`
	ExitCode  int         `json:"exit_code"`
	StartTime time.Time   `json:"start_time"`
	EndTime   time.Time   `json:"end_time,omitempty"`
}
