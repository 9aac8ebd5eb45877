// Package gate provides the exclusive gates that serialise calls into
// external tools.
//
// Every worker task that calls the Arduino CLI holds ArduinoCLI for the whole
// call, and every task that calls into the Git library holds Git. The two
// gates are independent: holding both at once is allowed.
package gate

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// Process-wide gates, one per external tool.
var (
	ArduinoCLI = New("arduino-cli")
	Git        = New("git")
)

// Gate is a named mutual-exclusion lock with context-aware acquisition.
type Gate struct {
	name string
	sem  *semaphore.Weighted
}

// New creates an unheld gate. Tests use it to get a private gate instead of
// the process-wide ones.
func New(name string) *Gate {
	return &Gate{name: name, sem: semaphore.NewWeighted(1)}
}

// Name returns the gate name.
func (g *Gate) Name() string {
	return g.name
}

// Acquire blocks until the gate is held or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if g.sem.TryAcquire(1) {
		return nil
	}
	slog.Debug("waiting for gate", "gate", g.name)
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire takes the gate only if it is free.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release frees the gate. Releasing an unheld gate panics.
func (g *Gate) Release() {
	g.sem.Release(1)
}
