package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dcc-ex/exinstaller/internal/models"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := models.Run{
			ID:        fmt.Sprintf("run-%d", i),
			Tool:      "arduino-cli",
			Name:      "arduino-cli",
			Args:      []string{"board", "list", "--format", "jsonmini"},
			Status:    models.StatusSuccess,
			Topic:     "Success",
			Data:      "[]",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + time.Second),
		}
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("Expected newest run first, got %s", runs[0].ID)
	}
	if !reflect.DeepEqual(runs[0].Args, []string{"board", "list", "--format", "jsonmini"}) {
		t.Errorf("Unexpected args %v", runs[0].Args)
	}

	got, err := s.GetRun(ctx, "run-0")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != models.StatusSuccess || got.Topic != "Success" {
		t.Errorf("Unexpected run %+v", got)
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	all, err := s.ListRuns(ctx, 0)
	if err != nil || len(all) != 3 {
		t.Errorf("Expected all 3 runs, got %d (%v)", len(all), err)
	}
}

func TestInstalls(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	first, err := s.SaveInstall(ctx, models.Install{
		Product: "ex_commandstation", Version: "v5.0.7-Prod",
		Device: "Arduino Mega or Mega 2560", FQBN: "arduino:avr:mega", Port: "/dev/ttyACM0",
		InstalledAt: time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("SaveInstall failed: %v", err)
	}
	if first.ID == "" {
		t.Error("Install ID should not be empty")
	}
	if _, err := s.SaveInstall(ctx, models.Install{
		Product: "ex_turntable", Version: "v0.7.0-Prod",
		Device: "Arduino Nano", FQBN: "arduino:avr:nano", Port: "/dev/ttyUSB0",
	}); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListInstalls(ctx, "", 0)
	if err != nil || len(all) != 2 {
		t.Fatalf("Expected 2 installs, got %d (%v)", len(all), err)
	}
	if all[0].Product != "ex_turntable" {
		t.Errorf("Expected newest install first, got %s", all[0].Product)
	}

	cs, err := s.ListInstalls(ctx, "ex_commandstation", 10)
	if err != nil || len(cs) != 1 || cs[0].Version != "v5.0.7-Prod" {
		t.Errorf("Unexpected filtered installs %+v (%v)", cs, err)
	}
}

func TestAudit(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	entry, err := s.WriteAudit(ctx, "hard_reset", "abc123", "success", "CommandStation-EX")
	if err != nil {
		t.Fatalf("WriteAudit failed: %v", err)
	}
	if entry.ID == "" || entry.Timestamp.IsZero() {
		t.Errorf("Unexpected entry %+v", entry)
	}

	entries, err := s.ListAudit(ctx, 5)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d (%v)", len(entries), err)
	}
	if entries[0].Action != "hard_reset" || entries[0].Details != "CommandStation-EX" {
		t.Errorf("Unexpected entry %+v", entries[0])
	}
}

func newTestStore(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}
