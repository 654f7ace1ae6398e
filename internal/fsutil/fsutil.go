// Package fsutil reads and writes the files the CLI touches: diff inputs,
// file-sink reports and the config file.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTooLarge is returned when a file exceeds the read limit.
var ErrTooLarge = errors.New("file too large")

// ReadFileLimited reads at most limit bytes from path. The file is opened
// through an os.Root at its own directory, so the name cannot traverse out
// of it through symlinks. A limit <= 0 means no limit.
func ReadFileLimited(path string, limit int64) ([]byte, error) {
	cleaned := filepath.Clean(path)
	name := filepath.Base(cleaned)
	if name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("not a file: %q", path)
	}

	root, err := os.OpenRoot(filepath.Dir(cleaned))
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if limit <= 0 {
		return io.ReadAll(f)
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", path, ErrTooLarge, limit)
	}
	return data, nil
}

// WriteFileAtomic writes data to path so readers see either the old or the
// new content, creating parent directories as needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return atomicWriteFile(path, data, perm)
}
