package store

import (
	"encoding/base64"
	"strings"

	coreerrors "sessionmux-core/internal/core/errors"
	"sessionmux-core/internal/session/model"
)

// blobPrefix 编码后的 blob 前缀，带版本语义便于以后换编码
const blobPrefix = "b64:"

// EncodeBlob 二进制安全编码
func EncodeBlob(blob []byte) string {
	return blobPrefix + base64.StdEncoding.EncodeToString(blob)
}

// DecodeBlob EncodeBlob 的逆操作
func DecodeBlob(s string) ([]byte, error) {
	if !strings.HasPrefix(s, blobPrefix) {
		return nil, coreerrors.Newf(coreerrors.CodeInvalidData, "blob: missing %q prefix", blobPrefix)
	}
	blob, err := base64.StdEncoding.DecodeString(s[len(blobPrefix):])
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInvalidData, "blob: invalid base64")
	}
	return blob, nil
}

// EntryField category:id，category 不能包含 ':'
func EntryField(category, id string) (string, error) {
	if category == "" || strings.Contains(category, ":") {
		return "", coreerrors.Newf(coreerrors.CodeInvalidData, "key material: invalid category %q", category)
	}
	return category + ":" + id, nil
}

// SplitEntryField EntryField 的逆操作
func SplitEntryField(field string) (category, id string, ok bool) {
	i := strings.Index(field, ":")
	if i <= 0 {
		return "", "", false
	}
	return field[:i], field[i+1:], true
}

// EncodeKeyMaterial 逐条目编码，返回 field -> value
// nil blob 被跳过，由调用方按删除处理
func EncodeKeyMaterial(km model.KeyMaterial) (map[string]string, error) {
	out := make(map[string]string, km.Len())
	for category, entries := range km {
		for id, blob := range entries {
			if blob == nil {
				continue
			}
			field, err := EntryField(category, id)
			if err != nil {
				return nil, err
			}
			out[field] = EncodeBlob(blob)
		}
	}
	return out, nil
}

// DecodeKeyMaterial 逐条目解码，损坏的条目记入 failed，其余照常返回
func DecodeKeyMaterial(encoded map[string]string) (model.KeyMaterial, []string) {
	km := make(model.KeyMaterial)
	var failed []string
	for field, value := range encoded {
		category, id, ok := SplitEntryField(field)
		if !ok {
			failed = append(failed, field)
			continue
		}
		blob, err := DecodeBlob(value)
		if err != nil {
			failed = append(failed, field)
			continue
		}
		km.Set(category, id, blob)
	}
	return km, failed
}
