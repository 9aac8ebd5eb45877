// Package worker runs blocking operations in the background and reports
// their outcome as messages on a queue.
//
// A task posts exactly one info message announcing the call, then exactly one
// terminal message (success or error) once the call has finished, failed or
// overrun its time limit. Tasks that touch an external tool hold that tool's
// gate for the duration of the call.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dcc-ex/exinstaller/internal/connectors"
	"github.com/dcc-ex/exinstaller/internal/gate"
	"github.com/dcc-ex/exinstaller/internal/models"
)

// DefaultTimeLimit bounds a task when no limit is given.
const DefaultTimeLimit = 300 * time.Second

// CallFunc is the operation a call task runs. The returned value becomes the
// data of the success message.
type CallFunc func(ctx context.Context) (any, error)

// Recorder persists the outcome of a task.
type Recorder interface {
	RecordRun(ctx context.Context, run models.Run) error
}

// Option configures a Task.
type Option func(*Task)

// WithTimeLimit sets the time limit. Zero or negative disables it.
func WithTimeLimit(d time.Duration) Option {
	return func(t *Task) { t.timeLimit = d }
}

// WithRecorder records the terminal outcome of the task.
func WithRecorder(r Recorder) Option {
	return func(t *Task) { t.recorder = r }
}

// Task is a single background operation bound to a queue.
type Task struct {
	id        string
	name      string
	args      []string
	summary   Summary
	queue     *Queue
	gate      *gate.Gate
	timeLimit time.Duration
	recorder  Recorder

	invoke     func(ctx context.Context) (models.Message, error)
	errorTopic func(err error) string
	timeout    func(limit time.Duration) (topic, data string)

	started atomic.Bool
	done    chan struct{}
}

// Summary is the info message posted before a task acquires its gate.
type Summary struct {
	Topic string
	Data  string
}

// NewCLITask creates a task that runs the Arduino CLI at cliPath with args
// through conn, holding g for the duration of the run.
func NewCLITask(g *gate.Gate, conn connectors.Connector, cliPath string, args []string, q *Queue, opts ...Option) *Task {
	argv := append([]string(nil), args...)
	t := newTask("arduino-cli", g, q, opts)
	t.args = argv
	t.summary = Summary{
		Topic: "Run Arduino CLI",
		Data:  fmt.Sprintf("Arduino CLI parameters: %v", argv),
	}
	t.invoke = func(ctx context.Context) (models.Message, error) {
		res, err := conn.Execute(ctx, cliPath, argv)
		if err != nil {
			return models.Message{}, err
		}
		slog.Debug("arduino-cli finished", "args", argv, "exit_code", res.ExitCode, "duration", res.Duration)

		topic, data, err := Classify(res.Stdout, res.Stderr)
		if err != nil {
			return models.Message{}, err
		}
		status := models.StatusError
		if res.ExitCode == 0 {
			status = models.StatusSuccess
		}
		return models.NewMessage(status, topic, data), nil
	}
	t.errorTopic = func(err error) string { return err.Error() }
	t.timeout = func(limit time.Duration) (string, string) {
		return "The Arduino CLI command did not complete within the timeout period",
			fmt.Sprintf("The running Arduino CLI command took longer than %s", limit)
	}
	return t
}

// NewCallTask creates a task that runs fn, holding g (if non-nil) for the
// duration of the call. name is used as the message topic.
func NewCallTask(name string, g *gate.Gate, fn CallFunc, q *Queue, opts ...Option) *Task {
	t := newTask(name, g, q, opts)
	t.summary = Summary{Topic: name, Data: fmt.Sprintf("Starting %s", name)}
	t.invoke = func(ctx context.Context) (models.Message, error) {
		v, err := fn(ctx)
		if err != nil {
			return models.Message{}, err
		}
		return models.NewMessage(models.StatusSuccess, name, v), nil
	}
	t.errorTopic = func(error) string { return name }
	t.timeout = func(limit time.Duration) (string, string) {
		return fmt.Sprintf("%s did not complete within the timeout period", name),
			fmt.Sprintf("The running %s task took longer than %s", name, limit)
	}
	return t
}

func newTask(name string, g *gate.Gate, q *Queue, opts []Option) *Task {
	t := &Task{
		id:        uuid.New().String(),
		name:      name,
		queue:     q,
		gate:      g,
		timeLimit: DefaultTimeLimit,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// TimeLimit returns the effective time limit; zero means unbounded.
func (t *Task) TimeLimit() time.Duration {
	if t.timeLimit < 0 {
		return 0
	}
	return t.timeLimit
}

// Done is closed after the terminal message has been posted.
func (t *Task) Done() <-chan struct{} { return t.done }

// Start launches the task in the background. A task can be started once.
func (t *Task) Start() error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	slog.Debug("starting task", "task", t.name, "id", t.id)
	go t.run()
	return nil
}

func (t *Task) run() {
	defer close(t.done)
	startedAt := time.Now()

	t.queue.Put(models.NewMessage(models.StatusInfo, t.summary.Topic, t.summary.Data))
	msg := t.execute()
	t.queue.Put(msg)

	if msg.Status == models.StatusError {
		slog.Error("task failed", "task", t.name, "id", t.id, "topic", msg.Topic)
	} else {
		slog.Debug("task succeeded", "task", t.name, "id", t.id)
	}
	t.record(startedAt, msg)
}

// execute performs the call and returns the terminal message. The gate is
// always released before it returns.
func (t *Task) execute() (msg models.Message) {
	held := false
	defer func() {
		if held {
			t.gate.Release()
		}
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			msg = models.NewMessage(models.StatusError, t.errorTopic(err), ErrorText(err))
		}
	}()

	if t.gate != nil {
		if err := t.gate.Acquire(context.Background()); err != nil {
			return models.NewMessage(models.StatusError, t.errorTopic(err), ErrorText(err))
		}
		held = true
	}

	ctx := context.Background()
	limit := t.TimeLimit()
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	began := time.Now()
	result, err := t.invoke(ctx)
	elapsed := time.Since(began)

	if limit > 0 && (errors.Is(ctx.Err(), context.DeadlineExceeded) || elapsed > limit) {
		topic, data := t.timeout(limit)
		return models.NewMessage(models.StatusError, topic, data)
	}
	if err != nil {
		return models.NewMessage(models.StatusError, t.errorTopic(err), ErrorText(err))
	}
	return result
}

func (t *Task) record(startedAt time.Time, msg models.Message) {
	if t.recorder == nil {
		return
	}
	tool := "local"
	if t.gate != nil {
		tool = t.gate.Name()
	}
	run := models.Run{
		ID:        t.id,
		Tool:      tool,
		Name:      t.name,
		Args:      t.args,
		Status:    msg.Status,
		Topic:     msg.Topic,
		Data:      DataString(msg.Data),
		StartedAt: startedAt,
		EndedAt:   time.Now(),
	}
	if err := t.recorder.RecordRun(context.Background(), run); err != nil {
		slog.Warn("failed to record task", "task", t.name, "id", t.id, "error", err)
	}
}
