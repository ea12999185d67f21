// Package media uploads contact pictures into the storage bucket.
package media

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultContentType is used when a picture carries no usable type.
const DefaultContentType = "image/jpeg"

var (
	// ErrLocalFileDenied is returned for file references when the
	// uploader runs on the server side.
	ErrLocalFileDenied = errors.New("media: local file references are not accepted")
	// ErrInvalidDataURI is returned for malformed data: references.
	ErrInvalidDataURI = errors.New("media: invalid data URI")
)

// Bucket is the storage the uploader writes to. *files.Bucket satisfies it.
type Bucket interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	PathFromURL(url string) (string, bool)
	Delete(path string) error
}

// Uploader implements contacts.ImageUploader.
type Uploader struct {
	Bucket Bucket
	// Now defaults to time.Now.
	Now func() time.Time
	// Rand returns the six character suffix of generated paths.
	Rand func() string
	// AllowLocalFiles lets references name files on this machine.
	AllowLocalFiles bool
	Logger          *slog.Logger
}

// UploadContactImage stores the picture behind ref under the owner's
// namespace and returns its public URL. Remote URLs come back unchanged
// and an empty ref or owner yields "".
func (u *Uploader) UploadContactImage(ctx context.Context, ref, ownerID string) (string, error) {
	if ref == "" || ownerID == "" {
		return "", nil
	}
	if IsRemote(ref) {
		return ref, nil
	}

	var (
		data        []byte
		contentType string
		err         error
	)
	if IsDataURI(ref) {
		contentType, data, err = ParseDataURI(ref)
	} else {
		if !u.AllowLocalFiles {
			return "", ErrLocalFileDenied
		}
		contentType, data, err = readLocal(ref)
	}
	if err != nil {
		return "", err
	}

	p := ImagePath(ownerID, u.now(), u.rand())
	url, err := u.Bucket.Put(ctx, p, data, contentType)
	if err != nil {
		u.logger().Error("uploadContactImage failed", "owner", ownerID, "error", err)
		return "", fmt.Errorf("media: upload: %w", err)
	}
	return url, nil
}

func (u *Uploader) now() time.Time {
	if u.Now != nil {
		return u.Now()
	}
	return time.Now()
}

func (u *Uploader) rand() string {
	if u.Rand != nil {
		return u.Rand()
	}
	return RandomSuffix()
}

// RemoveContactImage deletes the stored picture behind url. URLs outside
// the bucket or outside the owner's contacts namespace are left alone.
func (u *Uploader) RemoveContactImage(ctx context.Context, url, ownerID string) error {
	if url == "" || ownerID == "" {
		return nil
	}
	p, ok := u.Bucket.PathFromURL(url)
	if !ok || !strings.HasPrefix(p, "users/"+ownerID+"/contacts/") {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.Bucket.Delete(p); err != nil {
		return fmt.Errorf("media: remove %s: %w", p, err)
	}
	u.logger().Debug("contact image removed", "owner", ownerID, "path", p)
	return nil
}

func (u *Uploader) logger() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}

// ImagePath is users/<owner>/contacts/<unix-millis>-<suffix>.jpg.
func ImagePath(ownerID string, t time.Time, suffix string) string {
	return fmt.Sprintf("users/%s/contacts/%d-%s.jpg", ownerID, t.UnixMilli(), suffix)
}

const suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomSuffix returns six random base-36 characters.
func RandomSuffix() string {
	var sb strings.Builder
	base := big.NewInt(int64(len(suffixAlphabet)))
	for range 6 {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			panic(err)
		}
		sb.WriteByte(suffixAlphabet[n.Int64()])
	}
	return sb.String()
}

// IsRemote reports whether ref is an http or https URL.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// IsDataURI reports whether ref is an inline data: URI.
func IsDataURI(ref string) bool {
	return strings.HasPrefix(ref, "data:")
}

// ParseDataURI decodes ref into its media type and payload. Types other
// than image/* are reported as DefaultContentType.
func ParseDataURI(ref string) (string, []byte, error) {
	if !IsDataURI(ref) {
		return "", nil, ErrInvalidDataURI
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing comma", ErrInvalidDataURI)
	}

	params := strings.Split(header, ";")
	mime := strings.ToLower(strings.TrimSpace(params[0]))
	if !strings.HasPrefix(mime, "image/") {
		mime = DefaultContentType
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some encoders omit padding.
			if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); err != nil {
				return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
			}
		}
		return mime, data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	return mime, []byte(s), nil
}

// EncodeFileAsDataURI reads a local picture into a base64 data URI, so it
// can travel inside a JSON request.
func EncodeFileAsDataURI(path string) (string, error) {
	mime, data, err := readLocal(path)
	if err != nil {
		return "", err
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func readLocal(ref string) (string, []byte, error) {
	p := strings.TrimPrefix(ref, "file://")
	data, err := os.ReadFile(p)
	if err != nil {
		return "", nil, fmt.Errorf("media: reading %s: %w", p, err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		mime = DefaultContentType
	}
	return mime, data, nil
}
