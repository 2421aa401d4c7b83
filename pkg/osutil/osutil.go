// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package osutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	DefaultDirPerm  = 0755
	DefaultFilePerm = 0644
)

// IsExist returns true if the file name exists.
func IsExist(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// MkdirAll is a wrapper around os.MkdirAll with the default permissions.
func MkdirAll(dir string) error {
	return os.MkdirAll(dir, DefaultDirPerm)
}

// WriteFile is a wrapper around os.WriteFile with the default permissions.
func WriteFile(filename string, data []byte) error {
	return os.WriteFile(filename, data, DefaultFilePerm)
}

// TempFile creates a unique temp file in dir and returns its name.
func TempFile(dir, prefix string) (string, error) {
	f, err := os.CreateTemp(dir, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	f.Close()
	return f.Name(), nil
}

// Rename is similar to os.Rename but handles cross-device renames by
// falling back to copy+delete.
func Rename(oldFile, newFile string) error {
	err := os.Rename(oldFile, newFile)
	if err != nil {
		// Can't use syscall.EXDEV because it is not defined on Windows.
		data, readErr := os.ReadFile(oldFile)
		if readErr != nil {
			return err
		}
		if writeErr := WriteFile(newFile, data); writeErr != nil {
			return err
		}
		return os.Remove(oldFile)
	}
	return nil
}

// SafeWriteFile writes data to filename through a temp file and an
// atomic rename so that readers never observe a partial write.
func SafeWriteFile(filename string, data []byte) error {
	tmp := filename + ".tmp"
	if err := WriteFile(tmp, data); err != nil {
		return err
	}
	return Rename(tmp, filename)
}

// ListFiles returns paths of all regular files in dir (non-recursive),
// sorted by name. Subdirectories are ignored.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dir %v: %w", dir, err)
	}
	var files []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, ent.Name()))
	}
	sort.Strings(files)
	return files, nil
}
