// Package config loads navsync settings from a TOML file with NAVSYNC_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dukerupert/navsync/internal/blob"
)

// Duration is a time.Duration written as a string ("90s", "1h") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	LogLevel string        `toml:"log_level"`
	LogFile  string        `toml:"log_file"`
	Server   ServerConfig  `toml:"server"`
	Storage  StorageConfig `toml:"storage"`
	Client   ClientConfig  `toml:"client"`
}

type ServerConfig struct {
	Listen          string   `toml:"listen"`
	DBPath          string   `toml:"db_path"`
	JWTSecret       string   `toml:"jwt_secret"`
	MaxRetained     int      `toml:"max_retained"`
	MaxPayloadBytes int64    `toml:"max_payload_bytes"`
	CreateLimit     int      `toml:"create_limit"` // per user per minute, 0 = unlimited
	OriginPatterns  []string `toml:"origin_patterns"`
}

// StorageConfig is a tagged union: Provider decides which fields apply.
type StorageConfig struct {
	Provider string `toml:"provider"` // "filesystem", "s3", "r2" or "memory"
	RootDir  string `toml:"root_dir"`
	Path     string `toml:"path,omitempty"` // filesystem only

	Endpoint  string `toml:"endpoint,omitempty"`
	Bucket    string `toml:"bucket,omitempty"`
	Region    string `toml:"region,omitempty"`
	AccessKey string `toml:"access_key,omitempty"`
	SecretKey string `toml:"secret_key,omitempty"`

	Passphrase string `toml:"passphrase,omitempty"`
	Salt       string `toml:"salt,omitempty"` // hex, 16 bytes
}

// Blob converts the storage section to a blob.Config.
func (s StorageConfig) Blob() blob.Config {
	return blob.Config{
		Provider: s.Provider,
		Path:     s.Path,
		S3: blob.S3Config{
			Endpoint:  s.Endpoint,
			Bucket:    s.Bucket,
			Region:    s.Region,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
		},
		Passphrase: s.Passphrase,
		SaltHex:    s.Salt,
	}
}

type ClientConfig struct {
	ServerURL   string `toml:"server_url"`
	Token       string `toml:"token"`
	StatePath   string `toml:"state_path"`
	DatasetPath string `toml:"dataset_path"`
	AutoBackup  bool   `toml:"auto_backup"`

	Interval       Duration `toml:"interval"`
	LockTTL        Duration `toml:"lock_ttl"`
	InitialDelay   Duration `toml:"initial_delay"`
	WakeInterval   Duration `toml:"wake_interval"`
	Debounce       Duration `toml:"debounce"`
	MaxRetries     int      `toml:"max_retries"`
	RequestTimeout Duration `toml:"request_timeout"`
	HashTimeout    Duration `toml:"hash_timeout"`
}

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Listen:          ":8787",
			DBPath:          "navsync.db",
			MaxRetained:     5,
			MaxPayloadBytes: 10 << 20,
			CreateLimit:     30,
		},
		Storage: StorageConfig{
			Provider: "filesystem",
			RootDir:  "data-backups",
			Path:     "blobs",
		},
		Client: ClientConfig{
			ServerURL:      "http://localhost:8787",
			StatePath:      "navsync-state.db",
			DatasetPath:    "bookmarks.json",
			AutoBackup:     true,
			Interval:       Duration{time.Hour},
			LockTTL:        Duration{2 * time.Minute},
			InitialDelay:   Duration{3 * time.Second},
			WakeInterval:   Duration{time.Minute},
			Debounce:       Duration{5 * time.Second},
			MaxRetries:     3,
			RequestTimeout: Duration{30 * time.Second},
			HashTimeout:    Duration{30 * time.Second},
		},
	}
}

// Load reads path on top of the defaults, applies environment overrides
// and validates the result. A missing file yields the defaults. Unknown
// keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			md, err := toml.DecodeFile(path, cfg)
			if err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return nil, fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from NAVSYNC_* variables looked up via getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	str("NAVSYNC_LOG_LEVEL", &c.LogLevel)
	str("NAVSYNC_LOG_FILE", &c.LogFile)

	str("NAVSYNC_LISTEN", &c.Server.Listen)
	str("NAVSYNC_DB_PATH", &c.Server.DBPath)
	str("NAVSYNC_JWT_SECRET", &c.Server.JWTSecret)

	str("NAVSYNC_STORAGE_PROVIDER", &c.Storage.Provider)
	str("NAVSYNC_STORAGE_PATH", &c.Storage.Path)
	str("NAVSYNC_STORAGE_ROOT_DIR", &c.Storage.RootDir)
	str("NAVSYNC_S3_ENDPOINT", &c.Storage.Endpoint)
	str("NAVSYNC_S3_BUCKET", &c.Storage.Bucket)
	str("NAVSYNC_S3_REGION", &c.Storage.Region)
	str("NAVSYNC_S3_ACCESS_KEY", &c.Storage.AccessKey)
	str("NAVSYNC_S3_SECRET_KEY", &c.Storage.SecretKey)
	str("NAVSYNC_BACKUP_PASSPHRASE", &c.Storage.Passphrase)
	str("NAVSYNC_BACKUP_SALT", &c.Storage.Salt)

	str("NAVSYNC_SERVER_URL", &c.Client.ServerURL)
	str("NAVSYNC_TOKEN", &c.Client.Token)
	str("NAVSYNC_STATE_PATH", &c.Client.StatePath)
	str("NAVSYNC_DATASET_PATH", &c.Client.DatasetPath)

	if v := getenv("NAVSYNC_MAX_RETAINED"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NAVSYNC_MAX_RETAINED: %w", err)
		}
		c.Server.MaxRetained = n
	}
	if v := getenv("NAVSYNC_AUTO_BACKUP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NAVSYNC_AUTO_BACKUP: %w", err)
		}
		c.Client.AutoBackup = b
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		add("log_level: unknown level %q", c.LogLevel)
	}

	if c.Server.MaxRetained < 1 {
		add("server.max_retained must be at least 1, got %d", c.Server.MaxRetained)
	}
	if c.Server.MaxPayloadBytes < 1 {
		add("server.max_payload_bytes must be positive")
	}
	if c.Server.CreateLimit < 0 {
		add("server.create_limit must not be negative")
	}

	switch c.Storage.Provider {
	case "filesystem":
		if c.Storage.Path == "" {
			add("storage.path is required for the filesystem provider")
		}
	case "s3", "r2":
		if c.Storage.Bucket == "" {
			add("storage.bucket is required for the %s provider", c.Storage.Provider)
		}
	case "memory":
	default:
		add("storage.provider: unknown provider %q", c.Storage.Provider)
	}
	if c.Storage.RootDir == "" || strings.HasPrefix(c.Storage.RootDir, "/") {
		add("storage.root_dir must be a relative key prefix")
	}
	if c.Storage.Passphrase != "" && len(c.Storage.Salt) != 32 {
		add("storage.salt must be 32 hex characters when a passphrase is set")
	}

	cl := c.Client
	for name, d := range map[string]Duration{
		"interval":        cl.Interval,
		"lock_ttl":        cl.LockTTL,
		"wake_interval":   cl.WakeInterval,
		"debounce":        cl.Debounce,
		"request_timeout": cl.RequestTimeout,
		"hash_timeout":    cl.HashTimeout,
	} {
		if d.Duration <= 0 {
			add("client.%s must be positive", name)
		}
	}
	if cl.InitialDelay.Duration < 0 {
		add("client.initial_delay must not be negative")
	}
	if cl.MaxRetries < 0 {
		add("client.max_retries must not be negative")
	}

	return errors.Join(errs...)
}

// ValidateServer checks the settings only the server needs.
func (c *Config) ValidateServer() error {
	if len(c.Server.JWTSecret) < 16 {
		return errors.New("server.jwt_secret (NAVSYNC_JWT_SECRET) must be at least 16 characters")
	}
	return nil
}

// ValidateClient checks the settings only the client commands need.
func (c *Config) ValidateClient() error {
	if c.Client.ServerURL == "" {
		return errors.New("client.server_url (NAVSYNC_SERVER_URL) is required")
	}
	if c.Client.Token == "" {
		return errors.New("client.token (NAVSYNC_TOKEN) is required")
	}
	return nil
}
