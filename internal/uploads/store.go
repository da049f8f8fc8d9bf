// Package uploads keeps uploaded images on local disk for the duration of a
// single verification.
package uploads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrInvalidImage is returned when uploaded bytes are not a decodable image.
var ErrInvalidImage = errors.New("uploads: not a supported image")

// Store writes files under a single directory using generated names.
type Store struct {
	dir string
}

// New creates dir if needed and returns a store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string { return s.dir }

// Sniff decodes the image header and returns the format name
// (jpeg, png, gif, bmp, tiff or webp).
func Sniff(data []byte) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return "", fmt.Errorf("%w: empty %s image", ErrInvalidImage, format)
	}
	return format, nil
}

// Save writes data to a new file named <uuid>.<format> and returns its path.
func (s *Store) Save(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	format, err := Sniff(data)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, uuid.NewString()+"."+format)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return path, nil
}

// Remove deletes a file written by Save. A missing file is not an error.
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SanitizeFilename reduces a client supplied filename to a safe ASCII base
// name. The result may be empty.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r > unicode.MaxASCII:
		case unicode.IsSpace(r):
			b.WriteByte('_')
		case r == '.' || r == '-' || r == '_' ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9'):
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._")
}
