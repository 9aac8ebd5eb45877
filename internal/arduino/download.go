package arduino

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dcc-ex/exinstaller/internal/worker"
)

// Task names for the download and install steps.
const (
	TaskDownloadCLI = "download_cli"
	TaskExtractCLI  = "extract_cli"
)

// DownloadCLI fetches the CLI release archive for this machine into the
// temp directory. The archive path is the success data.
func (m *Manager) DownloadCLI(q *worker.Queue) {
	fn := func(ctx context.Context) (any, error) {
		name, err := ArchiveName(runtime.GOOS, runtime.GOARCH)
		if err != nil {
			return nil, err
		}
		dest := filepath.Join(os.TempDir(), name)
		if err := m.download(ctx, m.baseURL+name, dest); err != nil {
			return nil, err
		}
		return dest, nil
	}
	m.call(TaskDownloadCLI, fn, q)
}

// InstallCLI extracts archive into the CLI directory. The CLI path is the
// success data.
func (m *Manager) InstallCLI(archive string, q *worker.Queue) {
	fn := func(ctx context.Context) (any, error) {
		dir := filepath.Dir(m.cliPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("could not create Arduino CLI directory: %w", err)
		}
		if err := Extract(archive, dir); err != nil {
			return nil, err
		}
		if err := os.Chmod(m.cliPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to set permissions: %w", err)
		}
		return m.cliPath, nil
	}
	m.call(TaskExtractCLI, fn, q)
}

func (m *Manager) call(name string, fn worker.CallFunc, q *worker.Queue) {
	opts := []worker.Option{worker.WithTimeLimit(m.limits.Default)}
	if m.recorder != nil {
		opts = append(opts, worker.WithRecorder(m.recorder))
	}
	task := worker.NewCallTask(name, nil, fn, q, opts...)
	if err := task.Start(); err != nil {
		slog.Error("failed to start task", "task", name, "error", err)
	}
}

func (m *Manager) download(ctx context.Context, url, dest string) error {
	slog.Info("downloading arduino-cli", "url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to download archive: %w", err)
	}
	return out.Close()
}

// Extract unpacks a .tar.gz or .zip archive into dir.
func Extract(archive, dir string) error {
	switch {
	case strings.HasSuffix(archive, ".tar.gz"), strings.HasSuffix(archive, ".tgz"):
		return extractTarGz(archive, dir)
	case strings.HasSuffix(archive, ".zip"):
		return extractZip(archive, dir)
	default:
		return fmt.Errorf("unsupported archive: %s", filepath.Base(archive))
	}
}

// target resolves an archive entry name inside dir, rejecting entries that
// would escape it.
func target(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry outside target directory: %s", name)
	}
	return path, nil
}

func extractTarGz(archive, dir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", archive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", archive, err)
		}
		path, err := target(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(path, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		}
	}
}

func extractZip(archive, dir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", archive, err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		path, err := target(dir, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0755); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = writeFile(path, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
