// Package errors 提供统一的错误处理机制
//
// 设计原则：
// 1. 所有错误都应该可以通过 errors.Is() 和 errors.As() 进行类型检查
// 2. 错误码用于日志分类和向观察者透出
// 3. 支持错误链（error wrapping）
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 错误码定义
const (
	// 资源
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// 请求/配置
	CodeInvalidParam ErrorCode = "INVALID_PARAM"
	CodeConfigError  ErrorCode = "CONFIG_ERROR"
	CodeInvalidData  ErrorCode = "INVALID_DATA"
	CodeInvalidState ErrorCode = "INVALID_STATE"

	// 存储
	CodeStorageError ErrorCode = "STORAGE_ERROR" // 本地缓存，调用方必须处理
	CodeRemoteError  ErrorCode = "REMOTE_ERROR"  // 远端存储，只记录不中断

	// 会话生命周期
	CodeAlreadyRunning    ErrorCode = "ALREADY_RUNNING"
	CodeAlreadyInProgress ErrorCode = "ALREADY_IN_PROGRESS"
	CodeRestartExhausted  ErrorCode = "RESTART_EXHAUSTED"
	CodeSessionDeleted    ErrorCode = "SESSION_DELETED"
	CodeProviderError     ErrorCode = "PROVIDER_ERROR"

	// 系统
	CodeInternal  ErrorCode = "INTERNAL_ERROR"
	CodeTimeout   ErrorCode = "TIMEOUT"
	CodeCancelled ErrorCode = "CANCELLED"
	CodeClosed    ErrorCode = "CLOSED"
)

// Error 统一错误类型
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New 创建新错误
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf 创建格式化错误
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf 格式化包装错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// GetCode 从错误链中提取错误码，非 *Error 返回 CodeInternal
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode 检查错误链中是否有指定错误码
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Is 重导出 errors.Is
var Is = errors.Is

// As 重导出 errors.As
var As = errors.As

// Join 重导出 errors.Join
var Join = errors.Join
