// Package platform isolates the handful of operations this SDK needs from
// the outside world that aren't HTTP calls: clock, filesystem, random IDs,
// and HMAC signing for cache-entry integrity tags. Everything else talks
// to an Adapter instead of touching os/time/crypto directly, so tests can
// swap in a fake one the way internal/client's tests swap in a fake Doer.
package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"time"

	"github.com/google/uuid"
)

// Adapter is the default implementation's seam. Production code always
// uses Default; tests construct a struct literal overriding only the
// methods they need to control.
type Adapter interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
	NewID() string
	Getenv(key string) string
	LookupEnv(key string) (string, bool)

	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
	Remove(path string) error
	Rename(oldpath, newpath string) error

	// Sign returns an HMAC-SHA256 tag over data, base64url-encoded.
	Sign(key, data []byte) string
	// Verify reports whether tag is the correct HMAC-SHA256 of data under key.
	Verify(key, data []byte, tag string) bool
}

// Default is the production Adapter, backed by the standard library.
type Default struct{}

func (Default) Now() time.Time { return time.Now() }

func (Default) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (Default) NewID() string { return uuid.NewString() }

func (Default) Getenv(key string) string { return os.Getenv(key) }

func (Default) LookupEnv(key string) (string, bool) { return os.LookupEnv(key) }

func (Default) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (Default) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (Default) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (Default) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

func (Default) Remove(path string) error { return os.Remove(path) }

func (Default) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

func (Default) Sign(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (Default) Verify(key, data []byte, tag string) bool {
	want, err := base64.RawURLEncoding.DecodeString(tag)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	got := mac.Sum(nil)
	return hmac.Equal(want, got)
}
