package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("storage: object not found")

const extension = ".csar"

var keyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Object describes stored content.
type Object struct {
	Key  string
	Hash string
	Size int64
}

// FileStore is a content-addressed blob store on the local filesystem.
// Objects are named after the sha256 of their content.
type FileStore struct {
	root string
}

// New ensures root exists and returns a store rooted there.
func New(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Put streams r into the store. Storing identical bytes twice keeps one copy.
func (s *FileStore) Put(ctx context.Context, r io.Reader) (Object, error) {
	tmp, err := os.CreateTemp(s.root, ".upload-"+uuid.NewString()+"-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), &ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Object{}, fmt.Errorf("write object: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	final := filepath.Join(s.root, hash+extension)
	if _, err := os.Stat(final); err == nil {
		return Object{Key: hash, Hash: hash, Size: size}, nil
	}
	if err := os.Rename(tmpName, final); err != nil {
		return Object{}, fmt.Errorf("commit object: %w", err)
	}
	return Object{Key: hash, Hash: hash, Size: size}, nil
}

// Path returns the filesystem path of the object.
func (s *FileStore) Path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.root, key+extension), nil
}

// Open opens the object for reading.
func (s *FileStore) Open(key string) (*os.File, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return f, err
}

// Exists reports whether the object is present.
func (s *FileStore) Exists(key string) (bool, error) {
	path, err := s.Path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Delete removes the object. Missing objects are not an error.
func (s *FileStore) Delete(key string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
