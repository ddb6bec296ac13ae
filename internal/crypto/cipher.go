package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/scrypt"
)

// keySalt is the fixed key-derivation salt. The key is derived once per
// process from the shared secret; there is no per-field or per-record key
// diversification and no rotation scheme.
const keySalt = "healthgate-field-v1"

var decryptFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "healthgate_field_decrypt_failures_total",
	Help: "Number of sensitive fields that could not be decrypted.",
})

func init() {
	prometheus.MustRegister(decryptFailures)
}

// Cipher encrypts and decrypts individual sensitive fields. Implementations
// must treat decryption failure as "field unavailable", never as an error
// that aborts the request.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(field string) string
}

// FieldCipher is an AES-256-CBC Cipher with a process-lifetime key derived
// from a shared secret via scrypt.
type FieldCipher struct {
	key []byte
}

// NewFieldCipher derives the field-encryption key from the shared secret.
func NewFieldCipher(secret string) (*FieldCipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("field encryption secret must not be empty")
	}
	key, err := scrypt.Key([]byte(secret), []byte(keySalt), 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("deriving field key: %w", err)
	}
	return &FieldCipher{key: key}, nil
}

// Encrypt returns the field as "ivHex:cipherHex" with a fresh random IV.
// Empty input is returned as-is: empty values are never encrypted.
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("creating AES cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generating IV: %w", err)
	}
	padded := padPKCS7([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. Any failure (missing separator, bad hex, short
// or corrupted ciphertext, wrong key) yields "" so callers can degrade the
// field to "unavailable" instead of failing the request.
func (c *FieldCipher) Decrypt(field string) string {
	if field == "" {
		return ""
	}
	out, err := c.decrypt(field)
	if err != nil {
		decryptFailures.Inc()
		return ""
	}
	return out
}

func (c *FieldCipher) decrypt(field string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(field, ":")
	if !ok {
		return "", fmt.Errorf("missing separator")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("decoding IV: %w", err)
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(iv) != aes.BlockSize || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("malformed ciphertext")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	unpadded, err := unpadPKCS7(pt, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func padPKCS7(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
