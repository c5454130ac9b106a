package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// HeaderSize is the number of bytes the content cipher prepends (the IV).
const HeaderSize = aes.BlockSize

// DeriveKey 从密码派生 32 字节 AES-256 密钥
func DeriveKey(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return sum[:]
}

// NewEncryptReader 创建一个加密读取流
// 输出格式: [16字节随机IV] + [AES-CTR 密文]
func NewEncryptReader(src io.Reader, key []byte) (io.Reader, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key: %w", err)
	}

	iv := make([]byte, HeaderSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("crypto: generate iv: %w", err)
	}

	return io.MultiReader(
		bytes.NewReader(iv),
		&cipher.StreamReader{S: cipher.NewCTR(block, iv), R: src},
	), nil
}

// NewDecryptReader 创建一个解密读取流, src 开头必须包含 IV
func NewDecryptReader(src io.Reader, key []byte) (io.Reader, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key: %w", err)
	}

	iv := make([]byte, HeaderSize)
	if _, err := io.ReadFull(src, iv); err != nil {
		return nil, fmt.Errorf("crypto: read iv (content too short?): %w", err)
	}

	// CTR 模式下加密和解密逻辑是一样的
	return &cipher.StreamReader{S: cipher.NewCTR(block, iv), R: src}, nil
}

// PlainSize converts a stored ciphertext size back to the plaintext size.
func PlainSize(stored int64) int64 {
	if stored < HeaderSize {
		return 0
	}
	return stored - HeaderSize
}
