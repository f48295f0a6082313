package session

import (
	"strings"
)

// Bucket 断开原因分类
type Bucket int

const (
	// BucketUnrecoverable 删除会话，永不自动重启
	BucketUnrecoverable Bucket = iota + 1
	// BucketRecoverable 释放后延迟重启
	BucketRecoverable
	// BucketUnknown 按 Recoverable 处理，保留原始原因
	BucketUnknown
)

func (b Bucket) String() string {
	switch b {
	case BucketUnrecoverable:
		return "unrecoverable"
	case BucketRecoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

// 提供方断开原因
const (
	ReasonBadSession         = "badSession"
	ReasonLoggedOut          = "loggedOut"
	ReasonForbidden          = "forbidden"
	ReasonFailure            = "failure"
	ReasonConnectionClosed   = "connectionClosed"
	ReasonConnectionLost     = "connectionLost"
	ReasonConnectionReplaced = "connectionReplaced"
	ReasonRestartRequired    = "restartRequired"
	ReasonTimedOut           = "timedOut"
)

// StatusCodeMethodNotAllowed 提供方拒绝该会话
const StatusCodeMethodNotAllowed = 405

var reasonBuckets = map[string]Bucket{
	normalizeReason(ReasonBadSession):         BucketUnrecoverable,
	normalizeReason(ReasonLoggedOut):          BucketUnrecoverable,
	normalizeReason(ReasonForbidden):          BucketUnrecoverable,
	normalizeReason(ReasonFailure):            BucketUnrecoverable,
	normalizeReason(ReasonConnectionClosed):   BucketRecoverable,
	normalizeReason(ReasonConnectionLost):     BucketRecoverable,
	normalizeReason(ReasonConnectionReplaced): BucketRecoverable,
	normalizeReason(ReasonRestartRequired):    BucketRecoverable,
	normalizeReason(ReasonTimedOut):           BucketRecoverable,
}

// 没有原因字符串时按状态码分类
var codeBuckets = map[int]Bucket{
	401:                        BucketUnrecoverable, // logged out
	403:                        BucketUnrecoverable, // forbidden
	StatusCodeMethodNotAllowed: BucketUnrecoverable,
	500:                        BucketUnrecoverable, // bad session
	408:                        BucketRecoverable,   // lost / timed out
	428:                        BucketRecoverable,   // closed
	440:                        BucketRecoverable,   // replaced
	515:                        BucketRecoverable,   // restart required
}

// Classification 分类结果
type Classification struct {
	Bucket     Bucket
	Reason     string
	StatusCode int
}

// Detail 面向观察者的诊断信息
func (c Classification) Detail() string {
	reason := c.Reason
	if reason == "" {
		reason = "none"
	}
	if c.Bucket == BucketUnknown {
		return "unclassified close reason: " + reason
	}
	return reason
}

func normalizeReason(reason string) string {
	r := strings.NewReplacer("_", "", "-", "", " ", "").Replace(reason)
	return strings.ToLower(r)
}

// Classify 原因字符串优先；405 无论原因都视为不可恢复
func Classify(reason string, statusCode int) Classification {
	c := Classification{Reason: reason, StatusCode: statusCode, Bucket: BucketUnknown}
	if statusCode == StatusCodeMethodNotAllowed {
		c.Bucket = BucketUnrecoverable
		return c
	}
	if b, ok := reasonBuckets[normalizeReason(reason)]; ok {
		c.Bucket = b
		return c
	}
	if b, ok := codeBuckets[statusCode]; ok {
		c.Bucket = b
	}
	return c
}
