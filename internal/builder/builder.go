package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"radish/internal/builder/appsource"
	"radish/internal/builder/buildcache"
	"radish/internal/builder/manifest"
	"radish/internal/builder/provisioner"
	"radish/internal/common"

	"go.uber.org/zap"
)

// Builder 两阶段构建流水线
//
// 阶段严格串行：依赖安装成功之后才复制应用源码，任一阶段
// 失败立即终止并移除镜像目录（不产出半成品镜像）。
// 依赖安装阶段只以清单摘要为缓存键，源码改动不会触发重装。
type Builder struct {
	config      *common.BuilderConfig
	cache       *buildcache.Cache
	provisioner *provisioner.Provisioner
	copier      *appsource.Copier
	logger      *zap.Logger
}

// NewBuilder 创建构建流水线
func NewBuilder(config *common.BuilderConfig) (*Builder, error) {
	if config == nil {
		defaults := common.GetDefaultConfig().Builder
		config = &defaults
	}

	cache, err := buildcache.New(config.CacheDir)
	if err != nil {
		return nil, err
	}

	return &Builder{
		config: config,
		cache:  cache,
		provisioner: provisioner.New(&provisioner.Config{
			Command: config.InstallerCommand,
			Args:    config.InstallerArgs,
			Timeout: config.InstallTimeout,
		}),
		copier: appsource.NewCopier(config.IgnorePatterns),
		logger: common.ComponentLogger("builder"),
	}, nil
}

// Build 执行一次构建
func (b *Builder) Build(ctx context.Context, request common.BuildRequest) (*common.BuildResult, error) {
	result := &common.BuildResult{
		ID:        fmt.Sprintf("build_%d", time.Now().UnixNano()),
		ImageDir:  request.ImageDir,
		State:     common.BuildStateRunning,
		StartTime: time.Now(),
	}

	if err := common.ValidateBuildRequest(request); err != nil {
		return b.fail(result, err)
	}

	m, err := manifest.Load(request.ManifestPath)
	if err != nil {
		return b.fail(result, err)
	}
	result.ManifestDigest = m.Digest()

	sourceDigest, err := b.copier.Digest(request.SourceDir)
	if err != nil {
		return b.fail(result, err)
	}
	result.SourceDigest = sourceDigest

	b.logger.Info("Starting build",
		zap.String("build_id", result.ID),
		zap.String("manifest", request.ManifestPath),
		zap.Int("entries", len(m.Entries)),
		zap.String("manifest_digest", result.ManifestDigest),
		zap.String("source_digest", sourceDigest),
		zap.String("image_dir", request.ImageDir))

	if err := os.MkdirAll(request.ImageDir, 0755); err != nil {
		return b.fail(result, fmt.Errorf("failed to create image directory: %w", err))
	}

	envDir := filepath.Join(request.ImageDir, "env")
	appDir := filepath.Join(request.ImageDir, "app")

	// 阶段一：依赖安装，缓存键只含清单摘要
	provision, err := b.runStage(common.StageProvision, result.ManifestDigest, envDir, func() error {
		return b.provisioner.Provision(ctx, request.ManifestPath, envDir)
	})
	result.Stages = append(result.Stages, provision)
	if err != nil {
		b.discardImage(request.ImageDir)
		return b.fail(result, err)
	}

	// 阶段二：源码复制，缓存键为源码树摘要
	copyStage, err := b.runStage(common.StageCopySource, sourceDigest, appDir, func() error {
		_, copyErr := b.copier.Copy(request.SourceDir, appDir)
		return copyErr
	})
	result.Stages = append(result.Stages, copyStage)
	if err != nil {
		b.discardImage(request.ImageDir)
		return b.fail(result, err)
	}

	result.State = common.BuildStateSucceeded
	result.CompletionTime = time.Now()

	hits, misses := countCacheOutcomes(result.Stages)
	common.GetMetrics().RecordBuild(true, hits, misses)

	b.logger.Info("Build succeeded",
		zap.String("build_id", result.ID),
		zap.Duration("duration", result.CompletionTime.Sub(result.StartTime)),
		zap.Int("cache_hits", hits))

	return result, nil
}

// runStage 执行单个阶段（带缓存查询与失效处理）
func (b *Builder) runStage(stage, key, outputDir string, run func() error) (common.StageResult, error) {
	start := time.Now()

	if b.cache.Lookup(stage, key, outputDir) {
		b.logger.Info("Stage skipped (cache hit)",
			zap.String("stage", stage),
			zap.String("key", key))
		return common.StageResult{
			Name:     stage,
			CacheHit: true,
			Duration: time.Since(start),
		}, nil
	}

	// 执行前先作废旧 stamp：中途失败不会留下可命中的记录
	if err := b.cache.Invalidate(stage); err != nil {
		return common.StageResult{Name: stage, Error: err.Error()}, err
	}

	if err := run(); err != nil {
		return common.StageResult{
			Name:     stage,
			Duration: time.Since(start),
			Error:    err.Error(),
		}, err
	}

	if err := b.cache.Commit(stage, key, outputDir); err != nil {
		return common.StageResult{
			Name:     stage,
			Duration: time.Since(start),
			Error:    err.Error(),
		}, err
	}

	return common.StageResult{
		Name:     stage,
		Duration: time.Since(start),
	}, nil
}

// fail 标记构建失败
func (b *Builder) fail(result *common.BuildResult, err error) (*common.BuildResult, error) {
	result.State = common.BuildStateFailed
	result.CompletionTime = time.Now()
	result.Diagnostics = err.Error()

	hits, misses := countCacheOutcomes(result.Stages)
	common.GetMetrics().RecordBuild(false, hits, misses)

	b.logger.Error("Build failed",
		zap.String("build_id", result.ID),
		zap.Error(err))

	return result, err
}

// discardImage 构建失败时移除镜像目录
func (b *Builder) discardImage(imageDir string) {
	if err := os.RemoveAll(imageDir); err != nil {
		b.logger.Warn("Failed to remove image directory",
			zap.String("image_dir", imageDir),
			zap.Error(err))
	}
}

// countCacheOutcomes 统计各阶段缓存命中情况
func countCacheOutcomes(stages []common.StageResult) (hits, misses int) {
	for _, stage := range stages {
		if stage.Error != "" {
			continue
		}
		if stage.CacheHit {
			hits++
		} else {
			misses++
		}
	}
	return hits, misses
}
