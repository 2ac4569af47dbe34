package main

import (
	"context"
	"flag"
	"log"
	"os"

	"radish/internal/builder"
	"radish/internal/common"
	"radish/internal/events"

	"go.uber.org/zap"
)

func main() {
	var (
		manifestPath = flag.String("manifest", "requirements.txt", "Dependency manifest path")
		sourceDir    = flag.String("source", ".", "Application source directory")
		imageDir     = flag.String("image", "/tmp/radish/image", "Output image directory")
		configPath   = flag.String("config", "", "Config file path (YAML)")
		development  = flag.Bool("dev", false, "Enable development mode")
	)
	flag.Parse()

	// 初始化日志系统
	if err := common.InitLogger(*development); err != nil {
		panic(err)
	}
	defer common.Sync()

	config := common.GetDefaultConfig()
	if *configPath != "" {
		loaded, err := common.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		config = loaded
	}

	logger := common.GetLogger()
	logger.Info("Builder configuration",
		zap.String("manifest", *manifestPath),
		zap.String("source", *sourceDir),
		zap.String("image", *imageDir),
		zap.Bool("development", *development))

	b, err := builder.NewBuilder(&config.Builder)
	if err != nil {
		log.Fatalf("Failed to create builder: %v", err)
	}

	publisher := events.NewPublisher(&config.Events)
	defer publisher.Close()

	request := common.BuildRequest{
		ManifestPath: *manifestPath,
		SourceDir:    *sourceDir,
		ImageDir:     *imageDir,
	}

	publisher.Publish(context.Background(), events.Event{
		Type:     events.EventBuildStarted,
		ImageDir: *imageDir,
	})

	result, err := b.Build(context.Background(), request)
	if err != nil {
		publisher.Publish(context.Background(), events.Event{
			Type:     events.EventBuildFailed,
			ImageDir: *imageDir,
			Details:  map[string]string{"error": err.Error()},
		})
		logger.Error("Build failed", zap.Error(err))
		common.Sync()
		os.Exit(1)
	}

	publisher.Publish(context.Background(), events.Event{
		Type:     events.EventBuildCompleted,
		BuildID:  result.ID,
		ImageDir: result.ImageDir,
	})

	logger.Info("Build completed",
		zap.String("build_id", result.ID),
		zap.String("image_dir", result.ImageDir),
		zap.String("manifest_digest", result.ManifestDigest),
		zap.String("source_digest", result.SourceDigest))
}
