// Package secret запечатывает пароли администраторов узлов для хранения в БД.
// Ключ AES-256 выводится из секрета конфигурации через argon2id.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	prefix    = "v1:"
	nonceSize = 12
)

var keySalt = []byte("gateway-keeper/node-password")

// ErrMalformed возвращается для строк, которые не были запечатаны этим пакетом.
var ErrMalformed = errors.New("secret: malformed sealed value")

// Sealer шифрует и расшифровывает значения ключом, выведенным из секрета.
type Sealer struct {
	aead cipher.AEAD
}

// DeriveKey выводит 32-байтный ключ из секрета.
func DeriveKey(secret string) []byte {
	return argon2.IDKey([]byte(secret), keySalt, 1, 64*1024, 4, 32)
}

// New создаёт Sealer. Пустой секрет недопустим.
func New(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("secret: empty key")
	}
	block, err := aes.NewCipher(DeriveKey(secret))
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal шифрует plaintext. Каждый вызов использует новый nonce.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open расшифровывает значение, полученное от Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, ok := strings.CutPrefix(sealed, prefix)
	if !ok {
		return "", ErrMalformed
	}
	data, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil || len(data) < nonceSize {
		return "", ErrMalformed
	}
	plain, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("secret: open: %w", err)
	}
	return string(plain), nil
}
