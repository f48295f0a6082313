package errors

// 预定义哨兵错误（用于 errors.Is 比较）
var (
	ErrNotFound     = New(CodeNotFound, "resource not found")
	ErrInvalidParam = New(CodeInvalidParam, "invalid parameter")
	ErrConfig       = New(CodeConfigError, "invalid configuration")
	ErrInvalidData  = New(CodeInvalidData, "invalid data")
	ErrStorage      = New(CodeStorageError, "local storage error")
	ErrRemote       = New(CodeRemoteError, "remote storage error")

	ErrAlreadyRunning    = New(CodeAlreadyRunning, "session already running")
	ErrAlreadyInProgress = New(CodeAlreadyInProgress, "restart already in progress")
	ErrRestartExhausted  = New(CodeRestartExhausted, "restart attempts exhausted")
	ErrSessionDeleted    = New(CodeSessionDeleted, "session deleted")

	ErrClosed = New(CodeClosed, "closed")
)

// IsNotFound 检查是否为资源不存在错误
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsRemote 检查是否为远端存储错误（可忽略）
func IsRemote(err error) bool {
	return IsCode(err, CodeRemoteError)
}
