package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dcc-ex/exinstaller/internal/arduino"
	"github.com/dcc-ex/exinstaller/internal/audit"
	"github.com/dcc-ex/exinstaller/internal/config"
	"github.com/dcc-ex/exinstaller/internal/connectors/localexec"
	"github.com/dcc-ex/exinstaller/internal/gate"
	"github.com/dcc-ex/exinstaller/internal/gitclient"
	"github.com/dcc-ex/exinstaller/internal/logging"
	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/poller"
	"github.com/dcc-ex/exinstaller/internal/product"
	"github.com/dcc-ex/exinstaller/internal/store"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

// services are the components every command shares.
type services struct {
	cfg     config.Config
	store   *store.Store
	audit   *audit.Writer
	arduino *arduino.Manager
	git     *gitclient.Client
	catalog *product.Catalog
	log     io.Closer
}

func newServices(cfg config.Config) (*services, error) {
	logCloser, err := logging.Setup(cfg.LogFile, cfg.Debug)
	if err != nil {
		return nil, err
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	recorder := audit.NewRunRecorder(s)

	workDir, err := os.Getwd()
	if err != nil {
		slog.Warn("could not read working directory, running the Arduino CLI in the process directory", "error", err)
		workDir = ""
	}
	mgr := arduino.NewManager(gate.ArduinoCLI, localexec.New(workDir), cfg.CLIPath,
		arduino.WithTimeLimits(cfg.ArduinoTimeLimits()),
		arduino.WithRecorder(recorder),
	)

	return &services{
		cfg:     cfg,
		store:   s,
		audit:   audit.NewWriter(s),
		arduino: mgr,
		git: gitclient.New(gate.Git,
			gitclient.WithTimeLimit(cfg.TimeLimits.Git),
			gitclient.WithRecorder(recorder),
		),
		catalog: product.DefaultCatalog(),
		log:     logCloser,
	}, nil
}

// Close releases the database and log file.
func (s *services) Close() {
	if err := s.store.Close(); err != nil {
		slog.Error("database close error", "error", err)
	}
	slog.Info("shutdown complete")
	s.log.Close()
}

// await waits for the terminal message of a task on q, printing its
// progress to stdout. An error message becomes a Go error.
func await(ctx context.Context, q *worker.Queue) (models.Message, error) {
	m, err := poller.Await(ctx, q, func(info models.Message) {
		fmt.Printf("   %s\n", worker.DataString(info.Data))
	})
	if err != nil {
		return m, err
	}
	if m.Status == models.StatusError {
		text := m.Topic
		if data := worker.DataString(m.Data); data != "" && data != text {
			text += "\n" + data
		}
		return m, errors.New(text)
	}
	return m, nil
}

// record writes an audit entry, logging rather than failing on error.
func (s *services) record(ctx context.Context, action string, inputs any, outcome, details string) {
	if _, err := s.audit.Record(ctx, action, inputs, outcome, details); err != nil {
		slog.Error("failed to write audit entry", "action", action, "error", err)
	}
}
