// Package fsutil holds the file helpers shared by every artifact writer.
// Artifacts are always produced in a temp file next to their destination and
// renamed into place, so readers see either the previous file or the new one.
package fsutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// WriteAtomic streams fn's output into a temp file beside path and renames it
// over path once fn, Sync and Close all succeed. On any error the temp file is
// removed and path is left untouched.
func WriteAtomic(path string, perm os.FileMode, fn func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err = fn(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// WriteFileAtomic is the []byte form of WriteAtomic
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteJSONAtomic encodes v and writes it atomically. An empty indent gives
// compact output. The trailing newline added by json.Encoder is dropped.
func WriteJSONAtomic(path string, v any, indent string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, bytes.TrimSuffix(buf.Bytes(), []byte("\n")), 0644)
}

// ProduceAtomic hands fn a temp path with the same extension as path, for
// external tools that pick their output format from the file name. The temp
// file is renamed over path only if fn succeeds and left something non-empty.
func ProduceAtomic(path string, fn func(tmpPath string) error) error {
	ext := filepath.Ext(path)
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(path), ext)+".*.tmp"+ext)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	tmp.Close()

	if err := fn(tmpName); err != nil {
		os.Remove(tmpName)
		return err
	}

	info, err := os.Stat(tmpName)
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("no output produced for %s: %w", path, err)
	}
	if info.Size() == 0 {
		os.Remove(tmpName)
		return fmt.Errorf("empty output produced for %s", path)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists (file or directory)
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path is an existing directory
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsTempName reports whether a file name is one of our in-flight temp files
// or otherwise hidden.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp")
}
