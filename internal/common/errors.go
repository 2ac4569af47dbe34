package common

import (
	"errors"
	"fmt"
)

// 定义常见错误类型
var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrManifestNotFound     = errors.New("manifest not found")
	ErrManifestInvalid      = errors.New("manifest invalid")
	ErrInstallFailed        = errors.New("dependency install failed")
	ErrEntrypointInvalid    = errors.New("entrypoint invalid")
	ErrEntrypointNotFound   = errors.New("entrypoint not found")
	ErrPortInUse            = errors.New("port already in use")
	ErrLauncherBusy         = errors.New("launcher already owns a process")
	ErrStartupTimeout       = errors.New("startup window elapsed")
	ErrInvalidState         = errors.New("invalid state")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// RadishError 自定义错误类型
type RadishError struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Cause   error  `json:"-"`
}

func (e *RadishError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *RadishError) Unwrap() error {
	return e.Cause
}

// NewRadishError 创建新的Radish错误
func NewRadishError(errorType string, code int, message string, details string) *RadishError {
	return &RadishError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ValidationError 验证错误
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// NewValidationError 创建验证错误
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ValidateBuildRequest 验证构建请求
func ValidateBuildRequest(request BuildRequest) error {
	if request.ManifestPath == "" {
		return NewValidationError("manifest_path", "cannot be empty", request.ManifestPath)
	}
	if request.SourceDir == "" {
		return NewValidationError("source_dir", "cannot be empty", request.SourceDir)
	}
	if request.ImageDir == "" {
		return NewValidationError("image_dir", "cannot be empty", request.ImageDir)
	}
	return nil
}

// ValidateLaunchSpec 验证启动配置
func ValidateLaunchSpec(spec LaunchSpec) error {
	if spec.Entrypoint == "" {
		return NewValidationError("entrypoint", "cannot be empty", spec.Entrypoint)
	}
	if spec.Host == "" {
		return NewValidationError("host", "cannot be empty", spec.Host)
	}
	if spec.Port <= 0 || spec.Port > 65535 {
		return NewValidationError("port", "must be between 1 and 65535", spec.Port)
	}
	if spec.ImageDir == "" {
		return NewValidationError("image_dir", "cannot be empty", spec.ImageDir)
	}
	return nil
}
