package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	coreerrors "sessionmux-core/internal/core/errors"
)

// Sealer 远端落盘前对 blob 加密
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// NopSealer 不加密
type NopSealer struct{}

func (NopSealer) Seal(plain []byte) ([]byte, error)  { return plain, nil }
func (NopSealer) Open(sealed []byte) ([]byte, error) { return sealed, nil }

// xchachaSealer XChaCha20-Poly1305，输出 nonce || ciphertext
type xchachaSealer struct {
	aead cipher.AEAD
}

// NewSealer 使用 32 字节密钥创建 Sealer
func NewSealer(key []byte) (Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, coreerrors.Newf(coreerrors.CodeConfigError,
			"seal key requires %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeConfigError, "failed to create XChaCha20-Poly1305")
	}
	return &xchachaSealer{aead: aead}, nil
}

// ParseSealKey 接受 64 位十六进制或 32 字节原文
func ParseSealKey(s string) ([]byte, error) {
	if len(s) == hex.EncodedLen(chacha20poly1305.KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	if len(s) == chacha20poly1305.KeySize {
		return []byte(s), nil
	}
	return nil, coreerrors.Newf(coreerrors.CodeConfigError,
		"seal key must be %d raw bytes or %d hex chars", chacha20poly1305.KeySize, hex.EncodedLen(chacha20poly1305.KeySize))
}

// SealerFromKey 空 key 返回 NopSealer
func SealerFromKey(s string) (Sealer, error) {
	if s == "" {
		return NopSealer{}, nil
	}
	key, err := ParseSealKey(s)
	if err != nil {
		return nil, err
	}
	return NewSealer(key)
}

func (s *xchachaSealer) Seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *xchachaSealer) Open(sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, coreerrors.New(coreerrors.CodeInvalidData, "sealed blob too short")
	}
	plain, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInvalidData, "failed to open sealed blob")
	}
	return plain, nil
}
