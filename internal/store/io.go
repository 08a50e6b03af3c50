package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
)

// readSealed returns the sealed blob at path, or ErrNoKey if nothing is there.
func readSealed(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrNoKey
	case err != nil:
		return nil, fmt.Errorf("read key file: %w", err)
	case len(b) == 0:
		return nil, ErrNoKey
	}
	return b, nil
}

// replaceSealed writes blob next to path and renames it into place, so a
// crash leaves either the old key file or the new one, never a torn write.
func replaceSealed(path string, blob []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp key file: %w", err)
	}
	name := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(name)
		}
	}()

	if err = tmp.Chmod(0o600); err == nil {
		if _, err = tmp.Write(blob); err == nil {
			err = tmp.Sync()
		}
	}
	err = multierr.Append(err, tmp.Close())
	if err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	if err = os.Rename(name, path); err != nil {
		return fmt.Errorf("install key file: %w", err)
	}
	return nil
}
