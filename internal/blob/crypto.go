package blob

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4
)

// GenerateSalt returns 16 cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 32-byte AES-256 key from a passphrase and salt using Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMem, argonPar, keySize)
}

// EncryptedStore encrypts blobs at rest before handing them to the
// wrapped Store. The key is derived once from the passphrase and a
// per-deployment salt.
type EncryptedStore struct {
	next Store
	salt []byte
	gcm  cipher.AEAD
}

// NewEncryptedStore wraps next. salt must be 16 bytes and stable across
// restarts or previously written blobs become unreadable.
func NewEncryptedStore(next Store, passphrase string, salt []byte) (*EncryptedStore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase is empty")
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("encryption salt must be %d bytes, got %d", saltSize, len(salt))
	}

	block, err := aes.NewCipher(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &EncryptedStore{next: next, salt: append([]byte(nil), salt...), gcm: gcm}, nil
}

// Put stores [16-byte salt][12-byte nonce][AES-256-GCM ciphertext].
func (e *EncryptedStore) Put(ctx context.Context, key string, data []byte) error {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, data, []byte(key))

	out := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	out = append(out, e.salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return e.next.Put(ctx, key, out)
}

func (e *EncryptedStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := e.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) < saltSize+nonceSize {
		return nil, fmt.Errorf("encrypted blob %s too small", key)
	}

	nonce := data[saltSize : saltSize+nonceSize]
	plaintext, err := e.gcm.Open(nil, nonce, data[saltSize+nonceSize:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", key, err)
	}
	return plaintext, nil
}

func (e *EncryptedStore) Delete(ctx context.Context, key string) error {
	return e.next.Delete(ctx, key)
}
