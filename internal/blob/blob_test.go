package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(string(data))),
	}, nil
}

func (m *mockS3Client) HeadObject(_ context.Context, input *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*input.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

// storeContract exercises the behavior every Store must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "data-backups/u1/backup_u1_1.json"

	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing: err = %v, want ErrNotFound", err)
	}

	if err := s.Put(ctx, key, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("get = %s, want %s", got, `{"a":1}`)
	}

	if err := s.Put(ctx, key, []byte(`{"a":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = s.Get(ctx, key)
	if string(got) != `{"a":2}` {
		t.Errorf("after overwrite = %s, want %s", got, `{"a":2}`)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestFileSystemStore(t *testing.T) {
	s, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}
	storeContract(t, s)
}

func TestFileSystemStoreRejectsEscapingKeys(t *testing.T) {
	s, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}
	for _, key := range []string{"", "../outside.json", "/etc/passwd"} {
		if err := s.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("put %q: expected error", key)
		}
	}
}

func TestS3Store(t *testing.T) {
	storeContract(t, &S3Store{client: newMockS3(), bucket: "test"})
}

func TestS3StorePutError(t *testing.T) {
	mock := newMockS3()
	mock.putErr = errors.New("connection reset")
	s := &S3Store{client: mock, bucket: "test"}

	err := s.Put(context.Background(), "k", []byte("x"))
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want upload error", err)
	}
}

func TestNewS3StoreRequiresCredentials(t *testing.T) {
	if _, err := NewS3Store(S3Config{Bucket: "b"}); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewS3Store(S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s", Endpoint: "https://example.r2.cloudflarestorage.com"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEncryptedStore(t *testing.T) {
	inner := NewMemoryStore()
	salt := bytes.Repeat([]byte{7}, saltSize)
	s, err := NewEncryptedStore(inner, "correct horse", salt)
	if err != nil {
		t.Fatalf("new encrypted store: %v", err)
	}
	storeContract(t, s)

	ctx := context.Background()
	if err := s.Put(ctx, "k", []byte("secret payload")); err != nil {
		t.Fatalf("put: %v", err)
	}
	raw, _ := inner.Get(ctx, "k")
	if bytes.Contains(raw, []byte("secret payload")) {
		t.Error("plaintext visible in underlying store")
	}
	if !bytes.Equal(raw[:saltSize], salt) {
		t.Error("salt prefix missing")
	}

	wrong, _ := NewEncryptedStore(inner, "wrong", salt)
	if _, err := wrong.Get(ctx, "k"); err == nil {
		t.Error("expected decrypt error with wrong passphrase")
	}
}

func TestEncryptedStoreBindsKey(t *testing.T) {
	inner := NewMemoryStore()
	s, _ := NewEncryptedStore(inner, "pw", bytes.Repeat([]byte{1}, saltSize))
	ctx := context.Background()

	s.Put(ctx, "a", []byte("payload"))
	raw, _ := inner.Get(ctx, "a")
	inner.Put(ctx, "b", raw)

	if _, err := s.Get(ctx, "b"); err == nil {
		t.Error("expected error reading a blob moved to another key")
	}
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Provider: "memory"}, false},
		{"filesystem", Config{Provider: "filesystem", Path: t.TempDir()}, false},
		{"filesystem without path", Config{Provider: "filesystem"}, true},
		{"r2", Config{Provider: "r2", S3: S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s"}}, false},
		{"s3 without bucket", Config{Provider: "s3"}, true},
		{"encrypted", Config{Provider: "memory", Passphrase: "pw", SaltHex: "000102030405060708090a0b0c0d0e0f"}, false},
		{"bad salt", Config{Provider: "memory", Passphrase: "pw", SaltHex: "zz"}, true},
		{"unknown", Config{Provider: "webdav"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
