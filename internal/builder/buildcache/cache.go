package buildcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"radish/internal/common"

	"go.uber.org/zap"
)

// Cache 按内容摘要作键的阶段缓存
//
// 每个阶段对应缓存根目录下的一个 stamp 文件，记录上次成功
// 执行时的键与输出目录。键不匹配、stamp 缺失、输出目录与本次
// 构建要求的不一致或已被删除，都视为未命中，阶段必须重新执行。
type Cache struct {
	mu     sync.Mutex
	root   string
	logger *zap.Logger
}

// stamp 阶段成功执行的记录
type stamp struct {
	Stage     string    `json:"stage"`
	Key       string    `json:"key"`
	OutputDir string    `json:"output_dir"`
	CreatedAt time.Time `json:"created_at"`
}

// New 创建阶段缓存
func New(root string) (*Cache, error) {
	if root == "" {
		return nil, common.NewValidationError("root", "cannot be empty", root)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}

	return &Cache{
		root:   root,
		logger: common.ComponentLogger("buildcache"),
	}, nil
}

// Lookup 查询阶段缓存是否命中
//
// outputDir 为本次构建期望的阶段输出目录：stamp 指向其它目录时
// 不命中，否则换一个镜像目录构建会错误地跳过阶段。
func (c *Cache) Lookup(stage, key, outputDir string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.stampPath(stage))
	if err != nil {
		return false
	}

	var s stamp
	if err := json.Unmarshal(data, &s); err != nil {
		c.logger.Warn("Discarding unreadable cache stamp",
			zap.String("stage", stage),
			zap.Error(err))
		return false
	}

	if s.Key != key {
		return false
	}

	if s.OutputDir != outputDir {
		return false
	}

	// 输出目录被外部删除时 stamp 失效
	if info, err := os.Stat(s.OutputDir); err != nil || !info.IsDir() {
		return false
	}

	return true
}

// Commit 记录阶段成功执行
func (c *Cache) Commit(stage, key, outputDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := stamp{
		Stage:     stage,
		Key:       key,
		OutputDir: outputDir,
		CreatedAt: time.Now(),
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache stamp: %w", err)
	}

	if err := os.WriteFile(c.stampPath(stage), data, 0644); err != nil {
		return fmt.Errorf("failed to write cache stamp: %w", err)
	}

	c.logger.Debug("Cache stamp committed",
		zap.String("stage", stage),
		zap.String("key", key),
		zap.String("output_dir", outputDir))

	return nil
}

// Invalidate 作废阶段缓存
//
// 阶段执行中途失败时调用，避免半成品状态在下次构建被误判为命中。
func (c *Cache) Invalidate(stage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := os.Remove(c.stampPath(stage))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache stamp: %w", err)
	}

	c.logger.Debug("Cache stamp invalidated", zap.String("stage", stage))
	return nil
}

// stampPath 阶段 stamp 文件路径
func (c *Cache) stampPath(stage string) string {
	return filepath.Join(c.root, stage+".stamp")
}
