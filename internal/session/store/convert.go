package store

import (
	"encoding/json"

	coreerrors "sessionmux-core/internal/core/errors"
	"sessionmux-core/internal/session/model"
)

// toRemote 本地记录转远端格式，blob 先加密再编码
func toRemote(instanceID string, rec *model.Record, sealer Sealer) (*RemoteRecord, error) {
	out := &RemoteRecord{
		InstanceID: instanceID,
		OwnerID:    rec.OwnerID,
		DeviceID:   rec.DeviceID,
		Status:     string(rec.Status),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if rec.Credentials != nil {
		creds, err := sealer.Seal(rec.Credentials)
		if err != nil {
			return nil, err
		}
		out.Credentials = creds
	}

	doc := make(map[string]map[string]string, len(rec.KeyMaterial))
	for category, entries := range rec.KeyMaterial {
		if _, err := EntryField(category, ""); err != nil {
			return nil, err
		}
		encoded := make(map[string]string, len(entries))
		for id, blob := range entries {
			if blob == nil {
				continue
			}
			sealed, err := sealer.Seal(blob)
			if err != nil {
				return nil, err
			}
			encoded[id] = EncodeBlob(sealed)
		}
		doc[category] = encoded
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInvalidData, "encode key material")
	}
	out.KeyMaterial = raw
	return out, nil
}

// fromRemote 远端记录转本地格式
// 整体结构损坏或凭据无法解密时返回错误，单个条目损坏时跳过并记入 failed
func fromRemote(rr *RemoteRecord, sealer Sealer) (*model.Record, []string, error) {
	key := model.NewKey(rr.OwnerID, rr.DeviceID)
	if err := key.Validate(); err != nil {
		return nil, nil, coreerrors.Wrap(err, coreerrors.CodeInvalidData, "remote record key")
	}
	status := model.Status(rr.Status)
	if !status.Valid() {
		return nil, nil, coreerrors.Newf(coreerrors.CodeInvalidData, "remote record %s: unknown status %q", key, rr.Status)
	}

	rec := &model.Record{
		OwnerID:     rr.OwnerID,
		DeviceID:    rr.DeviceID,
		Status:      status,
		CreatedAt:   rr.CreatedAt,
		UpdatedAt:   rr.UpdatedAt,
		KeyMaterial: make(model.KeyMaterial),
	}
	if rr.Credentials != nil {
		creds, err := sealer.Open(rr.Credentials)
		if err != nil {
			return nil, nil, coreerrors.Wrapf(err, coreerrors.CodeInvalidData, "remote record %s: credentials", key)
		}
		rec.Credentials = creds
	}

	var doc map[string]map[string]string
	if len(rr.KeyMaterial) > 0 {
		if err := json.Unmarshal(rr.KeyMaterial, &doc); err != nil {
			return nil, nil, coreerrors.Wrapf(err, coreerrors.CodeInvalidData, "remote record %s: key material", key)
		}
	}

	var failed []string
	for category, entries := range doc {
		for id, value := range entries {
			field := category + ":" + id
			if _, err := EntryField(category, id); err != nil {
				failed = append(failed, field)
				continue
			}
			sealed, err := DecodeBlob(value)
			if err != nil {
				failed = append(failed, field)
				continue
			}
			blob, err := sealer.Open(sealed)
			if err != nil {
				failed = append(failed, field)
				continue
			}
			rec.KeyMaterial.Set(category, id, blob)
		}
	}
	return rec, failed, nil
}
