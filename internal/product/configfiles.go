package product

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// DirIsEmpty reports whether dir exists and has no entries.
func DirIsEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) == 0
}

// GetConfigFiles returns the names from names that exist in dir.
func GetConfigFiles(dir string, names []string) []string {
	var found []string
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err == nil && info.Mode().IsRegular() {
			found = append(found, name)
		}
	}
	return found
}

// CopyConfigFiles copies names from src to dst. It returns the names that
// could not be copied.
func CopyConfigFiles(src, dst string, names []string) []string {
	var failed []string
	for _, name := range names {
		if err := copyFile(filepath.Join(src, name), filepath.Join(dst, name)); err != nil {
			slog.Error("failed to copy config file", "file", name, "error", err)
			failed = append(failed, name)
		}
	}
	return failed
}

// DeleteConfigFiles removes names from dir. Missing files are not a
// failure. It returns the names that could not be deleted.
func DeleteConfigFiles(dir string, names []string) []string {
	var failed []string
	for _, name := range names {
		err := os.Remove(filepath.Join(dir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Error("failed to delete config file", "file", name, "error", err)
			failed = append(failed, name)
		}
	}
	return failed
}

// ValidateConfigDir checks that dir can supply configuration for p: it
// exists, it is not the product directory itself, and it holds every
// minimum config file.
func ValidateConfigDir(dir, productDir string, p Product) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if abs(dir) == abs(productDir) {
		return fmt.Errorf("configuration directory cannot be the %s directory", p.Name)
	}
	found := GetConfigFiles(dir, p.MinimumConfigFiles)
	if len(found) != len(p.MinimumConfigFiles) {
		return fmt.Errorf("%s is missing the required files: %v", dir, p.MinimumConfigFiles)
	}
	return nil
}

func abs(p string) string {
	a, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return a
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
