// Package filex stages incoming uploads on local disk before they are handed
// to the media host.
package filex

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// EnsureDir creates dir (relative paths resolve against the working directory)
// and returns its absolute path.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// StageFile copies r into a new file inside dir and returns its path.
// The file gets a random name; only the extension of originalName is kept,
// so client-supplied names never reach the filesystem.
// On any error the partial file is removed.
func StageFile(dir, originalName string, r io.Reader) (path string, err error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	path = filepath.Join(dir, uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o660)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
		if err != nil {
			_ = os.Remove(path)
			path = ""
		}
	}()

	if _, err = io.Copy(f, r); err != nil {
		return path, fmt.Errorf("write %s: %w", path, err)
	}

	return path, nil
}

// Remove deletes path, treating a missing file as success.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
