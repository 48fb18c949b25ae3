package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FilesystemAdapter stores one file per key under a root directory. Slashes
// in a key map to subdirectories; every other path-hostile segment is
// replaced by a hash of itself, so untrusted keys cannot escape the root.
type FilesystemAdapter struct {
	root   string
	logger zerolog.Logger
}

// NewFilesystemAdapter creates the root directory if needed.
func NewFilesystemAdapter(root string, logger zerolog.Logger) (*FilesystemAdapter, error) {
	if root == "" {
		return nil, errors.New("root directory is empty")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &FilesystemAdapter{
		root:   root,
		logger: logger.With().Str("component", "fs_cache").Logger(),
	}, nil
}

func (a *FilesystemAdapter) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(a.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		a.logger.Error().Str("key", key).Err(err).Msg("cache read failed")
		return nil, false, fmt.Errorf("read cache file: %w", err)
	}
	return data, true, nil
}

func (a *FilesystemAdapter) Set(_ context.Context, key string, value []byte) error {
	path := a.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		a.logger.Error().Str("key", key).Err(err).Msg("cache mkdir failed")
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(path, value, 0o600); err != nil {
		a.logger.Error().Str("key", key).Err(err).Msg("cache write failed")
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

func (a *FilesystemAdapter) Delete(_ context.Context, key string) error {
	if err := os.Remove(a.path(key)); err != nil && !os.IsNotExist(err) {
		a.logger.Error().Str("key", key).Err(err).Msg("cache delete failed")
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

// path maps a key onto a file under root. Callers historically used keys
// verbatim as relative paths, which is a traversal hazard; segments that are
// anything but plain names are replaced with a content hash instead.
func (a *FilesystemAdapter) path(key string) string {
	segments := strings.Split(key, "/")
	safe := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		safe = append(safe, sanitizeSegment(seg))
	}
	if len(safe) == 0 {
		safe = []string{sanitizeSegment(key)}
	}
	return filepath.Join(append([]string{a.root}, safe...)...)
}

func sanitizeSegment(seg string) string {
	if seg != "." && seg != ".." && isPlainName(seg) {
		return seg
	}
	sum := sha256.Sum256([]byte(seg))
	return hex.EncodeToString(sum[:8])
}

func isPlainName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '@':
		default:
			return false
		}
	}
	return true
}
