package duckdb

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ExportCSV copies the materialised file behind h to dstPath. The copy is
// written next to dstPath and renamed into place.
func ExportCSV(h *Handle, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := copyFile(h.Path, dstPath); err != nil {
		return fmt.Errorf("copy materialised csv: %w", err)
	}
	return nil
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dstPath)
}
