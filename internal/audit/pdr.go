// Package audit records what the installer did: a decision record for every
// state-changing action and a history entry for every worker task.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"

	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/store"
)

// Writer writes decision records for audit trails.
type Writer struct {
	store *store.Store
}

// NewWriter creates a new audit writer.
func NewWriter(s *store.Store) *Writer {
	return &Writer{store: s}
}

// Record writes an entry for a state-mutating action such as a hard reset,
// a CLI reinstall or an upload.
func (w *Writer) Record(ctx context.Context, action string, inputs any, outcome, details string) (*models.AuditEntry, error) {
	return w.store.WriteAudit(ctx, action, hashInputs(inputs), outcome, details)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// RunRecorder persists worker task outcomes.
type RunRecorder struct {
	store *store.Store
}

// NewRunRecorder creates a recorder backed by s.
func NewRunRecorder(s *store.Store) *RunRecorder {
	return &RunRecorder{store: s}
}

// RecordRun saves run.
func (r *RunRecorder) RecordRun(ctx context.Context, run models.Run) error {
	return r.store.SaveRun(ctx, run)
}
