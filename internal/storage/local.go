package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"carrental-backend/internal/logger"
)

// LocalStore keeps objects on the local filesystem and serves them through
// the storage routes of the HTTP server. Upload and download links carry an
// expiry and an HMAC so they behave like presigned URLs.
type LocalStore struct {
	cfg Config
	now func() time.Time
}

func NewLocalStore(cfg Config) (*LocalStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{cfg: cfg, now: time.Now}, nil
}

func (s *LocalStore) Config() Config { return s.cfg }

// AllowsType reports whether uploads of contentType are accepted.
func (s *LocalStore) AllowsType(contentType string) bool { return s.cfg.allows(contentType) }

func (s *LocalStore) GenerateUploadURL(ctx context.Context, key, contentType string, expiresIn time.Duration) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if !s.cfg.allows(contentType) {
		return "", fmt.Errorf("content type %q is not allowed", contentType)
	}
	return s.signedURL("/storage/upload/"+uuid.NewString(), key, expiresIn), nil
}

func (s *LocalStore) GenerateDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return s.signedURL("/storage/download", key, expiresIn), nil
}

func (s *LocalStore) signedURL(route, key string, expiresIn time.Duration) string {
	expires := s.now().Add(expiresIn).Unix()
	q := url.Values{}
	q.Set("key", key)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(key, expires))
	return fmt.Sprintf("%s%s?%s", s.cfg.BaseURL, route, q.Encode())
}

func (s *LocalStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.SigningSecret))
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyURL checks the key, expires and sig query parameters of a link
// generated by this store and returns the object key.
func (s *LocalStore) VerifyURL(q url.Values) (string, error) {
	key, err := CleanKey(q.Get("key"))
	if err != nil {
		return "", err
	}
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if err != nil {
		return "", ErrInvalidSignature
	}
	if s.now().Unix() > expires {
		return "", ErrInvalidSignature
	}
	want := s.sign(key, expires)
	if subtle.ConstantTimeCompare([]byte(want), []byte(q.Get("sig"))) != 1 {
		return "", ErrInvalidSignature
	}
	return key, nil
}

func (s *LocalStore) path(key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.cfg.Dir, filepath.FromSlash(key)), nil
}

// FileExists checks if file exists in local filesystem
func (s *LocalStore) FileExists(ctx context.Context, key string) (bool, int64, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return false, 0, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("Storage object not found", "key", key)
			return false, 0, nil
		}
		return false, 0, err
	}
	if info.IsDir() {
		return false, 0, nil
	}
	return true, info.Size(), nil
}

// DeleteFile deletes file from local filesystem
func (s *LocalStore) DeleteFile(ctx context.Context, key string) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// SaveFile writes the object through a temporary file so a reader never
// sees a partial upload. Uploads above MaxFileSize are rejected.
func (s *LocalStore) SaveFile(ctx context.Context, key string, reader io.Reader) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	src := reader
	if s.cfg.MaxFileSize > 0 {
		src = io.LimitReader(reader, s.cfg.MaxFileSize+1)
	}
	n, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if s.cfg.MaxFileSize > 0 && n > s.cfg.MaxFileSize {
		return ErrFileTooLarge
	}

	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("failed to store file: %w", err)
	}
	logger.Debug("Stored object", "key", key, "bytes", n)
	return nil
}

// ReadFile reads file from local filesystem
func (s *LocalStore) ReadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}
