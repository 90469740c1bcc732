// Package staging manages the chat-scoped directories that hold extracted
// media between the fetch and relay steps.
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir returns the staging directory for a chat: <root>/<chat-id>/media.
func Dir(root, chatID string) string {
	return filepath.Join(root, chatID, "media")
}

// Clear empties dir without removing it. A missing dir is not an error.
// Files and symlinks are unlinked; sub-directories are removed only when
// empty, otherwise the OS error is returned.
func Clear(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read staging dir: %w", err)
	}
	for _, e := range entries {
		// os.Remove unlinks files and symlinks and only removes empty directories.
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("clear staging dir: %w", err)
		}
	}
	return nil
}

// Prepare clears the chat's staging directory and makes sure it exists.
func Prepare(root, chatID string) (string, error) {
	dir := Dir(root, chatID)
	if err := Clear(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}
