// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile persists vex state files with atomic
// replace-on-write semantics. A file is written to a temporary sibling,
// fsynced, renamed over the target, and the parent directory is
// fsynced, so a reader (or a process restarted after a crash) sees
// either the old contents or the new contents, never a partial write.
//
// There is no cross-process locking. Each state file has exactly one
// writer process (vexd for daemon state, the invoking vex for client
// state), and callers serialize writes within that process.
package statefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/vex/lib/codec"
)

// Write atomically replaces path with data. The file is created with
// perm; the parent directory must exist.
func Write(path string, data []byte, perm os.FileMode) error {
	directory := filepath.Dir(path)
	file, err := os.CreateTemp(directory, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	temporaryPath := file.Name()

	// Write, sync, close, in that order. Any failure removes the
	// temporary file and reports the first error.
	if err := file.Chmod(perm); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("setting mode on temporary file for %s: %w", path, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file for %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file for %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file for %s: %w", path, err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}

	parentDirectory, err := os.Open(directory)
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// WriteCBOR encodes value with lib/codec and writes it with mode 0600.
func WriteCBOR(path string, value any) error {
	data, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return Write(path, data, 0600)
}

// ReadCBOR decodes the file at path into value. It reports false, with
// a nil error, when the file does not exist.
func ReadCBOR(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := codec.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	return true, nil
}
