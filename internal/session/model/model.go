// Package model 会话数据模型
package model

import (
	"strings"
	"time"

	coreerrors "sessionmux-core/internal/core/errors"
)

// Key 会话键，(OwnerID, DeviceID) 唯一确定一条受管连接
type Key struct {
	OwnerID  string
	DeviceID string
}

// NewKey 创建会话键
func NewKey(ownerID, deviceID string) Key {
	return Key{OwnerID: ownerID, DeviceID: deviceID}
}

// String 返回 ownerId:deviceId
func (k Key) String() string {
	return k.OwnerID + ":" + k.DeviceID
}

// Validate 检查键的两个部分
func (k Key) Validate() error {
	if k.OwnerID == "" {
		return coreerrors.New(coreerrors.CodeConfigError, "session key: owner id is required")
	}
	if k.DeviceID == "" {
		return coreerrors.New(coreerrors.CodeConfigError, "session key: device id is required")
	}
	if strings.Contains(k.DeviceID, ":") {
		return coreerrors.Newf(coreerrors.CodeConfigError, "session key: device id %q must not contain ':'", k.DeviceID)
	}
	return nil
}

// ParseKey 按最后一个 ':' 拆分
func ParseKey(s string) (Key, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return Key{}, coreerrors.Newf(coreerrors.CodeConfigError, "session key %q: missing ':'", s)
	}
	k := Key{OwnerID: s[:i], DeviceID: s[i+1:]}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Status 记录状态
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Valid 是否为已知状态
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusDeleted
}

// KeyMaterial category -> id -> blob
// 更新中 nil blob 表示删除该条目
type KeyMaterial map[string]map[string][]byte

// Set 写入条目
func (km KeyMaterial) Set(category, id string, blob []byte) {
	entries, ok := km[category]
	if !ok {
		entries = make(map[string][]byte)
		km[category] = entries
	}
	entries[id] = blob
}

// Get 读取条目
func (km KeyMaterial) Get(category, id string) ([]byte, bool) {
	blob, ok := km[category][id]
	return blob, ok
}

// Len 条目总数
func (km KeyMaterial) Len() int {
	n := 0
	for _, entries := range km {
		n += len(entries)
	}
	return n
}

// Clone 深拷贝
func (km KeyMaterial) Clone() KeyMaterial {
	if km == nil {
		return nil
	}
	out := make(KeyMaterial, len(km))
	for category, entries := range km {
		cp := make(map[string][]byte, len(entries))
		for id, blob := range entries {
			if blob != nil {
				blob = append([]byte{}, blob...)
			}
			cp[id] = blob
		}
		out[category] = cp
	}
	return out
}

// Record 持久化会话记录
type Record struct {
	OwnerID     string
	DeviceID    string
	Credentials []byte
	KeyMaterial KeyMaterial
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key 记录的会话键
func (r *Record) Key() Key {
	return Key{OwnerID: r.OwnerID, DeviceID: r.DeviceID}
}
