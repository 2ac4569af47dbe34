package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"radish/internal/common"
)

// Entrypoint 应用入口引用
//
// module:attribute 形式，例如 run:app。module 是以点分隔的
// 模块路径，attribute 是模块内承载应用对象的属性名。
type Entrypoint struct {
	Module    string `json:"module"`
	Attribute string `json:"attribute"`
}

var (
	modulePattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	attributePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ParseEntrypoint 解析入口引用
func ParseEntrypoint(s string) (Entrypoint, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Entrypoint{}, fmt.Errorf("%w: expected module:attribute form, got %q",
			common.ErrEntrypointInvalid, s)
	}

	module, attribute := parts[0], parts[1]
	if !modulePattern.MatchString(module) {
		return Entrypoint{}, fmt.Errorf("%w: invalid module path %q",
			common.ErrEntrypointInvalid, module)
	}
	if !attributePattern.MatchString(attribute) {
		return Entrypoint{}, fmt.Errorf("%w: invalid attribute name %q",
			common.ErrEntrypointInvalid, attribute)
	}

	return Entrypoint{Module: module, Attribute: attribute}, nil
}

// String 返回 module:attribute 形式
func (e Entrypoint) String() string {
	return e.Module + ":" + e.Attribute
}

// Resolve 在应用目录中解析入口模块
//
// 模块路径必须对应一个存在的源文件（run -> run.py）或带
// __init__.py 的包目录。属性是否存在由承载运行时在进程启动
// 时裁决，其非零退出会被原样上报。
func (e Entrypoint) Resolve(appDir string) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(e.Module, ".", "/"))

	moduleFile := filepath.Join(appDir, rel+".py")
	if info, err := os.Stat(moduleFile); err == nil && info.Mode().IsRegular() {
		return moduleFile, nil
	}

	packageInit := filepath.Join(appDir, rel, "__init__.py")
	if info, err := os.Stat(packageInit); err == nil && info.Mode().IsRegular() {
		return packageInit, nil
	}

	return "", fmt.Errorf("%w: module %q not present under %s",
		common.ErrEntrypointNotFound, e.Module, appDir)
}
