// Package fieldcrypt seals individual string fields with AES-256-GCM.
//
// A sealed value is the token "iv:authTag:ciphertext" with every part hex
// encoded. The empty string is never sealed.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
	hkdfInfo  = "vaultline field encryption v1"
)

var (
	ErrNoKey          = errors.New("fieldcrypt: encryption key is not configured")
	ErrDecrypt        = errors.New("fieldcrypt: decryption failed")
	ErrMalformedToken = errors.New("fieldcrypt: malformed token")
	ErrNotString      = errors.New("fieldcrypt: field value is not a string")
)

// DecryptError reports which field failed and why.
type DecryptError struct {
	Field string
	Err   error
}

func (e *DecryptError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %v", ErrDecrypt, e.Err)
	}
	return fmt.Sprintf("%v: field %s: %v", ErrDecrypt, e.Field, e.Err)
}

// Unwrap exposes both ErrDecrypt and the underlying cause to errors.Is.
func (e *DecryptError) Unwrap() []error { return []error{ErrDecrypt, e.Err} }

// Engine encrypts and decrypts single fields. It is safe for concurrent use.
type Engine struct {
	aead cipher.AEAD
	rand io.Reader
}

// Option configures an Engine.
type Option func(*Engine)

// WithRandom overrides the IV source.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) {
		if r != nil {
			e.rand = r
		}
	}
}

// New builds an engine from key material. A 32-byte key is used as is; any
// other length is stretched with HKDF-SHA256.
func New(key []byte, opts ...Option) (*Engine, error) {
	if len(key) == 0 {
		return nil, ErrNoKey
	}
	aesKey := key
	if len(key) != keySize {
		aesKey = make([]byte, keySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(hkdfInfo)), aesKey); err != nil {
			return nil, fmt.Errorf("fieldcrypt: derive key: %w", err)
		}
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: %w", err)
	}
	e := &Engine{aead: aead, rand: rand.Reader}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ParseKey decodes configured key material: 64 hex characters, base64 of 32
// bytes, or anything else taken verbatim as a passphrase.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoKey
	}
	if len(raw) == hex.EncodedLen(keySize) {
		if b, err := hex.DecodeString(raw); err == nil {
			return b, nil
		}
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == keySize {
		return b, nil
	}
	return []byte(raw), nil
}

// Encrypt seals plaintext with a fresh IV. The empty string is returned unchanged.
func (e *Engine) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(e.rand, nonce); err != nil {
		return "", fmt.Errorf("fieldcrypt: generate iv: %w", err)
	}
	sealed := e.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens a token produced by Encrypt. The empty string is returned unchanged.
func (e *Engine) Decrypt(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	nonce, tag, ct, err := splitToken(token)
	if err != nil {
		return "", &DecryptError{Err: err}
	}
	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plain, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &DecryptError{Err: err}
	}
	return string(plain), nil
}

// LooksEncrypted reports whether s has the shape of a token. It does not
// authenticate the value.
func LooksEncrypted(s string) bool {
	_, _, _, err := splitToken(s)
	return err == nil
}

func splitToken(token string) (nonce, tag, ct []byte, err error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("%w: expected 3 parts, got %d", ErrMalformedToken, len(parts))
	}
	if nonce, err = hex.DecodeString(parts[0]); err != nil || len(nonce) != nonceSize {
		return nil, nil, nil, fmt.Errorf("%w: bad iv", ErrMalformedToken)
	}
	if tag, err = hex.DecodeString(parts[1]); err != nil || len(tag) != tagSize {
		return nil, nil, nil, fmt.Errorf("%w: bad auth tag", ErrMalformedToken)
	}
	if ct, err = hex.DecodeString(parts[2]); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: bad ciphertext", ErrMalformedToken)
	}
	return nonce, tag, ct, nil
}
