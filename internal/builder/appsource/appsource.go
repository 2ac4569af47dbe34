package appsource

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"radish/internal/common"

	"go.uber.org/zap"
)

// Copier 应用源码树复制器
//
// 把应用源码完整复制进镜像目录，并提供基于内容的摘要，
// 作为复制阶段的缓存键。忽略列表对两者同时生效，保证
// 摘要与实际复制内容一致。
type Copier struct {
	ignorePatterns []string
	logger         *zap.Logger
}

// NewCopier 创建源码复制器
func NewCopier(ignorePatterns []string) *Copier {
	return &Copier{
		ignorePatterns: ignorePatterns,
		logger:         common.ComponentLogger("appsource"),
	}
}

// Digest 计算源码树内容摘要
//
// 对相对路径排序后逐个混入路径、文件模式与文件内容，
// 同样的树在任何机器上得到同样的摘要。
func (c *Copier) Digest(srcDir string) (string, error) {
	files, err := c.collectFiles(srcDir)
	if err != nil {
		return "", err
	}

	hasher := sha256.New()
	for _, rel := range files {
		path := filepath.Join(srcDir, rel)
		info, err := os.Lstat(path)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", rel, err)
		}

		fmt.Fprintf(hasher, "%s\x00%o\x00", filepath.ToSlash(rel), info.Mode().Perm())

		file, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", rel, err)
		}
		if _, err := io.Copy(hasher, file); err != nil {
			file.Close()
			return "", fmt.Errorf("failed to hash %s: %w", rel, err)
		}
		file.Close()
		hasher.Write([]byte{0})
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Copy 复制源码树到目标目录
//
// 目标目录会先被清空，复制保留文件模式。返回复制的文件数。
func (c *Copier) Copy(srcDir, destDir string) (int, error) {
	if err := os.RemoveAll(destDir); err != nil {
		return 0, fmt.Errorf("failed to clear destination: %w", err)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create destination: %w", err)
	}

	files, err := c.collectFiles(srcDir)
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, rel := range files {
		src := filepath.Join(srcDir, rel)
		dest := filepath.Join(destDir, rel)

		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return copied, fmt.Errorf("failed to create directory for %s: %w", rel, err)
		}

		if err := copyFile(src, dest); err != nil {
			return copied, fmt.Errorf("failed to copy %s: %w", rel, err)
		}
		copied++
	}

	c.logger.Info("Source tree copied",
		zap.String("source", srcDir),
		zap.String("destination", destDir),
		zap.Int("files", copied))

	return copied, nil
}

// collectFiles 收集源码树内的普通文件（相对路径，已排序）
func (c *Copier) collectFiles(srcDir string) ([]string, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return nil, fmt.Errorf("source directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return nil, common.NewValidationError("source_dir", "must be a directory", srcDir)
	}

	var files []string
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if c.shouldIgnore(rel, info) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source tree: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// shouldIgnore 判断路径是否匹配忽略列表
func (c *Copier) shouldIgnore(rel string, info os.FileInfo) bool {
	base := filepath.Base(rel)
	for _, pattern := range c.ignorePatterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		// 目录名模式对路径中的任意一段生效
		if !strings.ContainsAny(pattern, "*?[") {
			for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
				if part == pattern {
					return true
				}
			}
		}
	}
	return false
}

// copyFile 复制单个文件并保留权限
func copyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}

	return out.Close()
}
