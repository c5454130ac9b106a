package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrNameTooShort is returned for names that cannot hold a nonce.
var ErrNameTooShort = errors.New("crypto: encrypted name too short")

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptName 加密文件名 (AES-GCM + Base64Url), 结果是确定性的:
// 同一个名字在同一个密钥下总是得到同一个密文, so lookups by name keep working.
// The nonce is an HMAC of the name under the key.
func EncryptName(plainName string, key []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(plainName))
	nonce := mac.Sum(nil)[:aead.NonceSize()]

	// Nonce 作为密文前缀, 解密时恢复
	sealed := aead.Seal(nonce, nonce, []byte(plainName), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptName 解密文件名
func DecryptName(encryptedName string, key []byte) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(encryptedName)
	if err != nil {
		return "", fmt.Errorf("crypto: decode name: %w", err)
	}

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	if len(data) < aead.NonceSize() {
		return "", ErrNameTooShort
	}
	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open name: %w", err)
	}
	return string(plain), nil
}
