package arduino

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/dcc-ex/exinstaller/internal/gate"
	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0755, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtract_TarGz(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "cli.tar.gz")
	data := tarGz(t, map[string]string{"arduino-cli": "binary", "LICENSE.txt": "GPL"})
	if err := os.WriteFile(archive, data, 0644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out")
	if err := Extract(archive, out); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(out, "arduino-cli"))
	if err != nil || string(got) != "binary" {
		t.Errorf("Unexpected extracted file %q (%v)", got, err)
	}
}

func TestExtract_Zip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "cli.zip")
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("arduino-cli.exe")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("exe"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archive, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out")
	if err := Extract(archive, out); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "arduino-cli.exe")); err != nil {
		t.Errorf("Expected extracted file: %v", err)
	}
}

func TestExtract_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	if err := os.WriteFile(archive, tarGz(t, map[string]string{"../escape": "x"}), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Extract(archive, filepath.Join(dir, "out")); err == nil {
		t.Error("Expected traversal entry to be rejected")
	}
}

func TestExtract_UnknownFormat(t *testing.T) {
	if err := Extract("cli.rar", t.TempDir()); err == nil {
		t.Error("Expected unsupported archive error")
	}
}

func TestDownloadAndInstallCLI(t *testing.T) {
	name, err := ArchiveName(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		t.Skipf("no release for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	if filepath.Ext(name) == ".zip" {
		t.Skip("archive fixture is tar.gz only")
	}
	archive := tarGz(t, map[string]string{executableName(): "#!/bin/sh\n"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+name {
			http.NotFound(w, r)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()

	cli := CLIFilePath(t.TempDir())
	m := NewManager(gate.New("test"), &recordingConnector{}, cli,
		WithReleaseURL(srv.URL), WithHTTPClient(srv.Client()))

	q := worker.NewQueue()
	m.DownloadCLI(q)
	msg := await(t, q)
	if msg.Status != models.StatusSuccess || msg.Topic != TaskDownloadCLI {
		t.Fatalf("Download failed: %+v", msg)
	}
	path := msg.Data.(string)
	defer os.Remove(path)

	m.InstallCLI(path, q)
	msg = await(t, q)
	if msg.Status != models.StatusSuccess || msg.Data != cli {
		t.Fatalf("Install failed: %+v", msg)
	}
	if !m.IsInstalled() {
		t.Error("Expected CLI to be installed")
	}
}

func TestDownloadCLI_HTTPError(t *testing.T) {
	if _, err := ArchiveName(runtime.GOOS, runtime.GOARCH); err != nil {
		t.Skip("no release for this platform")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	m := NewManager(gate.New("test"), &recordingConnector{}, CLIFilePath(t.TempDir()), WithReleaseURL(srv.URL))
	q := worker.NewQueue()
	m.DownloadCLI(q)
	msg := await(t, q)
	if msg.Status != models.StatusError || msg.Topic != TaskDownloadCLI {
		t.Errorf("Expected download error, got %+v", msg)
	}
}
