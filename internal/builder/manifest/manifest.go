package manifest

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"

	"radish/internal/common"
)

// Manifest 依赖清单
//
// 按行排列的精确版本钉定（name==version），构建期读取一次，
// 运行期不再变更。条目顺序与清单文件一致。
type Manifest struct {
	Path    string  `json:"path,omitempty"`
	Entries []Entry `json:"entries"`

	raw []byte
}

// Entry 单个依赖钉定
type Entry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String 返回清单行形式
func (e Entry) String() string {
	return fmt.Sprintf("%s==%s", e.Name, e.Version)
}

// 钉定行格式：包名==版本，不允许区间约束
var pinPattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)==([0-9A-Za-z][0-9A-Za-z._+-]*)$`)

// Load 从文件加载依赖清单
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrManifestNotFound, path)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, err
	}

	m.Path = path
	return m, nil
}

// Parse 解析清单内容
//
// 空行与 # 注释行被忽略；任何非钉定行（包括 >=、~= 等区间约束）
// 都会导致解析失败，以保证构建可复现。
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{raw: data}
	seen := make(map[string]int)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		matches := pinPattern.FindStringSubmatch(line)
		if matches == nil {
			return nil, fmt.Errorf("%w: %s", common.ErrManifestInvalid,
				common.NewValidationError(fmt.Sprintf("line %d", lineNo),
					"must be an exact pin of the form name==version", line).Error())
		}

		name := normalizeName(matches[1])
		if prev, exists := seen[name]; exists {
			return nil, fmt.Errorf("%w: %s", common.ErrManifestInvalid,
				common.NewValidationError(fmt.Sprintf("line %d", lineNo),
					fmt.Sprintf("duplicate entry for '%s' (first seen at line %d)", name, prev), line).Error())
		}
		seen[name] = lineNo

		m.Entries = append(m.Entries, Entry{Name: matches[1], Version: matches[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if len(m.Entries) == 0 {
		return nil, fmt.Errorf("%w: manifest contains no entries", common.ErrManifestInvalid)
	}

	return m, nil
}

// Digest 计算清单内容摘要
//
// 作为依赖安装阶段唯一的缓存键：只有清单字节变化才会
// 触发重新安装，应用源码的改动不影响该键。
func (m *Manifest) Digest() string {
	sum := sha256.Sum256(m.raw)
	return hex.EncodeToString(sum[:])
}

// Lookup 按包名查找钉定版本
func (m *Manifest) Lookup(name string) (Entry, bool) {
	target := normalizeName(name)
	for _, entry := range m.Entries {
		if normalizeName(entry.Name) == target {
			return entry, true
		}
	}
	return Entry{}, false
}

// normalizeName 规范化包名（大小写与 -/_/. 视为等价）
func normalizeName(name string) string {
	lowered := strings.ToLower(name)
	lowered = strings.ReplaceAll(lowered, "_", "-")
	lowered = strings.ReplaceAll(lowered, ".", "-")
	return lowered
}
