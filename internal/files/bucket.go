// Package files is the file storage service: a directory-backed bucket
// whose objects are served back through public download URLs.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrylevesque/contactbook/internal/crypto"
)

var (
	// ErrNotFound is returned for a missing object.
	ErrNotFound = errors.New("files: object not found")
	// ErrInvalidPath is returned for empty, absolute or escaping paths.
	ErrInvalidPath = errors.New("files: invalid object path")
)

// URLPrefix is the route under which objects are served.
const URLPrefix = "/files/"

const metaSuffix = ".meta.json"

// Config configures a Bucket.
type Config struct {
	Dir string
	// PublicURL is the externally reachable base of the API, without a
	// trailing slash.
	PublicURL string
	// MasterKey enables sealing of object bytes when non-nil.
	MasterKey []byte
}

// Object is a stored blob and its metadata.
type Object struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	Sealed      bool      `json:"sealed"`
	Data        []byte    `json:"-"`
}

// Bucket stores objects under a directory.
type Bucket struct {
	dir       string
	publicURL string
	master    []byte
	mu        sync.RWMutex
}

// New creates the bucket directory if needed.
func New(cfg Config) (*Bucket, error) {
	if cfg.Dir == "" {
		return nil, errors.New("files: Dir is required")
	}
	if cfg.MasterKey != nil && len(cfg.MasterKey) != crypto.KeySize {
		return nil, crypto.ErrInvalidKeyLength
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("files: creating %s: %w", cfg.Dir, err)
	}
	return &Bucket{
		dir:       cfg.Dir,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		master:    cfg.MasterKey,
	}, nil
}

// Sealed reports whether objects are encrypted at rest.
func (b *Bucket) Sealed() bool { return b.master != nil }

// URL returns the public download URL of p.
func (b *Bucket) URL(p string) string {
	return b.publicURL + URLPrefix + p
}

// PathFromURL returns the object path of a URL produced by URL, or false
// when the URL belongs elsewhere.
func (b *Bucket) PathFromURL(u string) (string, bool) {
	prefix := b.publicURL + URLPrefix
	if !strings.HasPrefix(u, prefix) {
		return "", false
	}
	p := strings.TrimPrefix(u, prefix)
	if ValidatePath(p) != nil {
		return "", false
	}
	return p, true
}

// Put writes data at p and returns its download URL.
func (b *Bucket) Put(ctx context.Context, p string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidatePath(p); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	payload := data
	if b.Sealed() {
		key, err := crypto.DeriveObjectKey(b.master, scopeOf(p))
		if err != nil {
			return "", err
		}
		if payload, err = crypto.EncryptAESGCM(key, data); err != nil {
			return "", fmt.Errorf("files: sealing %s: %w", p, err)
		}
	}
	meta, err := json.MarshalIndent(Object{
		Path:        p,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UTC(),
		Sealed:      b.Sealed(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("files: marshaling metadata: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	full := b.fullPath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return "", fmt.Errorf("files: creating directory: %w", err)
	}
	if err := writeFileAtomic(full, payload); err != nil {
		return "", err
	}
	if err := writeFileAtomic(full+metaSuffix, meta); err != nil {
		return "", err
	}
	return b.URL(p), nil
}

// Get reads the object at p, unsealing it if needed.
func (b *Bucket) Get(p string) (Object, error) {
	if err := ValidatePath(p); err != nil {
		return Object{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	full := b.fullPath(p)
	metaBytes, err := os.ReadFile(full + metaSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("files: reading metadata: %w", err)
	}
	var obj Object
	if err := json.Unmarshal(metaBytes, &obj); err != nil {
		return Object{}, fmt.Errorf("files: parsing metadata of %s: %w", p, err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("files: reading %s: %w", p, err)
	}
	if obj.Sealed {
		if b.master == nil {
			return Object{}, fmt.Errorf("files: %s is sealed and no master key is configured", p)
		}
		key, err := crypto.DeriveObjectKey(b.master, scopeOf(p))
		if err != nil {
			return Object{}, err
		}
		if data, err = crypto.DecryptAESGCM(key, data); err != nil {
			return Object{}, fmt.Errorf("files: unsealing %s: %w", p, err)
		}
	}
	obj.Data = data
	return obj, nil
}

// Delete removes the object at p. Missing objects are ignored.
func (b *Bucket) Delete(p string) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	full := b.fullPath(p)
	for _, f := range []string{full, full + metaSuffix} {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("files: removing %s: %w", p, err)
		}
	}
	return nil
}

// ValidatePath rejects paths that are empty, absolute, not clean, or that
// use the metadata suffix.
func ValidatePath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") ||
		path.Clean(p) != p || p == "." || strings.HasPrefix(p, "../") || p == ".." ||
		strings.HasSuffix(p, metaSuffix) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return nil
}

func (b *Bucket) fullPath(p string) string {
	return filepath.Join(b.dir, filepath.FromSlash(p))
}

// scopeOf returns the key scope of p: its first two segments, so every
// object under users/<uid>/ shares one derived key.
func scopeOf(p string) string {
	parts := strings.SplitN(p, "/", 3)
	if len(parts) < 2 {
		return p
	}
	return parts[0] + "/" + parts[1]
}

func writeFileAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".tmp-*")
	if err != nil {
		return fmt.Errorf("files: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("files: writing %s: %w", name, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("files: chmod %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("files: closing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("files: renaming into %s: %w", name, err)
	}
	return nil
}
