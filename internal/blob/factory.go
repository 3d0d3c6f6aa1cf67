package blob

import (
	"encoding/hex"
	"fmt"
)

// Config selects and configures a Store implementation.
type Config struct {
	Provider string // "s3", "r2", "filesystem" or "memory"
	Path     string // filesystem root
	S3       S3Config

	// Optional at-rest encryption. SaltHex is 32 hex characters.
	Passphrase string
	SaltHex    string
}

// New creates a Store based on cfg.Provider, wrapped in an EncryptedStore
// when a passphrase is configured.
func New(cfg Config) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Provider {
	case "memory":
		store = NewMemoryStore()
	case "filesystem", "":
		store, err = NewFileSystemStore(cfg.Path)
	case "s3", "r2":
		store, err = NewS3Store(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Passphrase == "" {
		return store, nil
	}
	salt, err := hex.DecodeString(cfg.SaltHex)
	if err != nil {
		return nil, fmt.Errorf("decode encryption salt: %w", err)
	}
	return NewEncryptedStore(store, cfg.Passphrase, salt)
}
