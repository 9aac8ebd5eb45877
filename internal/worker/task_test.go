package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/dcc-ex/exinstaller/internal/connectors"
	"github.com/dcc-ex/exinstaller/internal/gate"
	"github.com/dcc-ex/exinstaller/internal/models"
)

// fakeConnector returns a canned result, optionally after a delay.
type fakeConnector struct {
	result  *connectors.ExecResult
	err     error
	delay   time.Duration
	honour  bool // return early when ctx is done
	onStart func()
	onEnd   func()
	gotArgs []string
}

func (f *fakeConnector) Name() string { return "fake" }

func (f *fakeConnector) IsAllowed(string, []string) bool { return true }

func (f *fakeConnector) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	f.gotArgs = args
	if f.onStart != nil {
		f.onStart()
	}
	if f.onEnd != nil {
		defer f.onEnd()
	}
	if f.delay > 0 {
		if f.honour {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			time.Sleep(f.delay)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type memRecorder struct {
	mu   sync.Mutex
	runs []models.Run
}

func (r *memRecorder) RecordRun(_ context.Context, run models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

type fataler interface {
	Helper()
	Fatal(args ...any)
}

// finish waits for the task and drains its queue.
func finish(t fataler, task *Task, q *Queue) []models.Message {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
	var msgs []models.Message
	for {
		m, ok := q.TryGet()
		if !ok {
			return msgs
		}
		msgs = append(msgs, m)
	}
}

func TestCLITask_Success(t *testing.T) {
	q := NewQueue()
	conn := &fakeConnector{result: &connectors.ExecResult{
		Stdout: []byte(`{"success":true,"compiler_out":"Sketch uses 1024 bytes"}`),
	}}
	args := []string{"compile", "-b", "arduino:avr:mega", "/tmp/sketch", "--format", "jsonmini"}
	task := NewCLITask(gate.New("test"), conn, "arduino-cli", args, q)

	if err := task.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	msgs := finish(t, task, q)

	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d: %+v", len(msgs), msgs)
	}
	info := msgs[0]
	if info.Status != models.StatusInfo || info.Topic != "Run Arduino CLI" {
		t.Errorf("Unexpected info message: %+v", info)
	}
	if info.Data != "Arduino CLI parameters: [compile -b arduino:avr:mega /tmp/sketch --format jsonmini]" {
		t.Errorf("Unexpected info data: %q", info.Data)
	}
	done := msgs[1]
	if done.Status != models.StatusSuccess || done.Topic != "Success" || done.Data != "Sketch uses 1024 bytes" {
		t.Errorf("Unexpected terminal message: %+v", done)
	}
}

func TestCLITask_ErrorOutput(t *testing.T) {
	q := NewQueue()
	conn := &fakeConnector{result: &connectors.ExecResult{
		ExitCode: 1,
		Stderr:   []byte(`{"error":"bad board","output":{"stderr":"detail"}}`),
	}}
	task := NewCLITask(gate.New("test"), conn, "arduino-cli", []string{"board", "list"}, q)
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	msgs := finish(t, task, q)

	got := msgs[len(msgs)-1]
	want := models.NewMessage(models.StatusError, "bad board", "detail\n")
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestCLITask_LaunchFailure(t *testing.T) {
	q := NewQueue()
	launchErr := errors.New("exec: \"arduino-cli\": executable file not found in $PATH")
	conn := &fakeConnector{err: launchErr}
	task := NewCLITask(gate.New("test"), conn, "arduino-cli", []string{"version"}, q)
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	msgs := finish(t, task, q)

	got := msgs[len(msgs)-1]
	if got.Status != models.StatusError || got.Topic != launchErr.Error() {
		t.Errorf("Unexpected message: %+v", got)
	}
	if got.Data != ErrorText(launchErr) {
		t.Errorf("Unexpected data: %q", got.Data)
	}
}

func TestCLITask_MalformedOutputIsError(t *testing.T) {
	q := NewQueue()
	conn := &fakeConnector{result: &connectors.ExecResult{Stdout: []byte("not json")}}
	task := NewCLITask(gate.New("test"), conn, "arduino-cli", []string{"version"}, q)
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	msgs := finish(t, task, q)

	got := msgs[len(msgs)-1]
	if got.Status != models.StatusError {
		t.Fatalf("Expected error status, got %+v", got)
	}
	if !strings.HasPrefix(got.Data.(string), "An error of type ") {
		t.Errorf("Expected error text, got %q", got.Data)
	}
}

func TestCLITask_TimeoutCancelsCall(t *testing.T) {
	q := NewQueue()
	conn := &fakeConnector{delay: 5 * time.Second, honour: true}
	task := NewCLITask(gate.New("test"), conn, "arduino-cli", []string{"core", "update-index"}, q,
		WithTimeLimit(50*time.Millisecond))

	start := time.Now()
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	msgs := finish(t, task, q)
	if time.Since(start) > 2*time.Second {
		t.Error("Expected the call to be cut short at the time limit")
	}

	got := msgs[len(msgs)-1]
	want := models.NewMessage(models.StatusError,
		"The Arduino CLI command did not complete within the timeout period",
		"The running Arduino CLI command took longer than 50ms")
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestCLITask_OverrunIsTimeoutEvenIfCallSucceeds(t *testing.T) {
	q := NewQueue()
	conn := &fakeConnector{
		delay:  80 * time.Millisecond,
		result: &connectors.ExecResult{Stdout: []byte(`{"success":true}`)},
	}
	task := NewCLITask(gate.New("test"), conn, "arduino-cli", []string{"version"}, q,
		WithTimeLimit(20*time.Millisecond))
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	msgs := finish(t, task, q)

	got := msgs[len(msgs)-1]
	if got.Status != models.StatusError || !strings.Contains(got.Topic, "timeout") {
		t.Errorf("Expected timeout error, got %+v", got)
	}
}

func TestCLITask_NoTimeLimit(t *testing.T) {
	q := NewQueue()
	conn := &fakeConnector{
		delay:  30 * time.Millisecond,
		result: &connectors.ExecResult{Stdout: []byte(`{"success":true,"compiler_out":"done"}`)},
	}
	task := NewCLITask(gate.New("test"), conn, "arduino-cli", []string{"upload"}, q, WithTimeLimit(0))
	if task.TimeLimit() != 0 {
		t.Errorf("Expected unbounded task, got %v", task.TimeLimit())
	}
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	msgs := finish(t, task, q)
	if got := msgs[len(msgs)-1]; got.Status != models.StatusSuccess {
		t.Errorf("Expected success, got %+v", got)
	}
}

func TestTask_StartTwice(t *testing.T) {
	q := NewQueue()
	task := NewCallTask("noop", nil, func(context.Context) (any, error) { return nil, nil }, q)
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	if err := task.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
	if msgs := finish(t, task, q); len(msgs) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(msgs))
	}
}

func TestTask_InfoPostedBeforeGateIsFree(t *testing.T) {
	g := gate.New("test")
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	q := NewQueue()
	task := NewCallTask("clone_repo", g, func(context.Context) (any, error) { return "cloned", nil }, q)
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	info, err := q.Get(ctx)
	if err != nil {
		t.Fatalf("Expected info message while gate is held: %v", err)
	}
	if info.Status != models.StatusInfo {
		t.Errorf("Expected info, got %+v", info)
	}

	time.Sleep(30 * time.Millisecond)
	if q.Len() != 0 {
		t.Fatal("Task must not finish while the gate is held")
	}

	g.Release()
	msgs := finish(t, task, q)
	if len(msgs) != 1 || msgs[0] != models.NewMessage(models.StatusSuccess, "clone_repo", "cloned") {
		t.Errorf("Unexpected messages: %+v", msgs)
	}
	if !g.TryAcquire() {
		t.Error("Gate should be released once the task has finished")
	}
}

func TestTask_GateSerialisesCalls(t *testing.T) {
	g := gate.New("test")
	var inside, overlap atomic.Int32
	conn := &fakeConnector{
		delay:  10 * time.Millisecond,
		result: &connectors.ExecResult{Stdout: []byte(`{"success":true}`)},
		onStart: func() {
			if inside.Add(1) > 1 {
				overlap.Add(1)
			}
		},
		onEnd: func() { inside.Add(-1) },
	}

	var tasks []*Task
	var queues []*Queue
	for i := 0; i < 5; i++ {
		q := NewQueue()
		task := NewCLITask(g, conn, "arduino-cli", []string{"version"}, q)
		tasks = append(tasks, task)
		queues = append(queues, q)
	}
	for _, task := range tasks {
		if err := task.Start(); err != nil {
			t.Fatal(err)
		}
	}
	for i, task := range tasks {
		finish(t, task, queues[i])
	}
	if overlap.Load() != 0 {
		t.Error("Calls under the same gate overlapped")
	}
}

func TestCallTask_ErrorAndPanic(t *testing.T) {
	q := NewQueue()
	failErr := errors.New("remote not found")
	task := NewCallTask("pull", nil, func(context.Context) (any, error) { return nil, failErr }, q)
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	msgs := finish(t, task, q)
	if got := msgs[1]; got.Status != models.StatusError || got.Topic != "pull" || got.Data != ErrorText(failErr) {
		t.Errorf("Unexpected error message: %+v", got)
	}

	g := gate.New("test")
	q = NewQueue()
	task = NewCallTask("checkout", g, func(context.Context) (any, error) { panic("boom") }, q)
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	msgs = finish(t, task, q)
	if len(msgs) != 2 || msgs[1].Status != models.StatusError || msgs[1].Topic != "checkout" {
		t.Errorf("Expected a single error after panic, got %+v", msgs)
	}
	if !g.TryAcquire() {
		t.Error("Gate should be released after a panic")
	}
}

func TestTask_RecordsRun(t *testing.T) {
	rec := &memRecorder{}
	q := NewQueue()
	conn := &fakeConnector{result: &connectors.ExecResult{
		ExitCode: 1,
		Stdout:   []byte(`{"success":false,"error":"compile failed","compiler_err":"missing ;"}`),
	}}
	task := NewCLITask(gate.New("arduino-cli"), conn, "arduino-cli", []string{"compile"}, q, WithRecorder(rec))
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	finish(t, task, q)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.runs) != 1 {
		t.Fatalf("Expected 1 recorded run, got %d", len(rec.runs))
	}
	run := rec.runs[0]
	if run.ID != task.ID() || run.Tool != "arduino-cli" || run.Status != models.StatusError {
		t.Errorf("Unexpected run: %+v", run)
	}
	if run.Topic != "compile failed" || run.Data != "missing ;" {
		t.Errorf("Unexpected run outcome: %q / %q", run.Topic, run.Data)
	}
}

func TestCLITask_ExactlyOneTerminalMessage(t *testing.T) {
	outputs := []string{
		"",
		`{"success":true,"compiler_out":"ok"}`,
		`{"success":false,"error":"e","compiler_err":"x"}`,
		`{"stdout":"plain"}`,
		`[1,2,3]`,
		`not json`,
	}
	rapid.Check(t, func(rt *rapid.T) {
		exit := rapid.IntRange(0, 3).Draw(rt, "exit")
		stdout := rapid.SampledFrom(outputs).Draw(rt, "stdout")
		stderr := ""
		if rapid.Bool().Draw(rt, "stderr") {
			stderr = `{"error":"failed"}`
		}

		q := NewQueue()
		conn := &fakeConnector{result: &connectors.ExecResult{
			ExitCode: exit,
			Stdout:   []byte(stdout),
			Stderr:   []byte(stderr),
		}}
		task := NewCLITask(gate.New("prop"), conn, "arduino-cli", []string{"version"}, q)
		if err := task.Start(); err != nil {
			rt.Fatal(err)
		}
		msgs := finish(rt, task, q)

		if len(msgs) != 2 || msgs[0].Status != models.StatusInfo || !msgs[1].Terminal() {
			rt.Fatalf("Expected info then one terminal message, got %+v", msgs)
		}
		if stdout == "not json" && stderr == "" {
			return
		}
		wantSuccess := exit == 0
		if (msgs[1].Status == models.StatusSuccess) != wantSuccess {
			rt.Errorf("exit %d produced status %s", exit, msgs[1].Status)
		}
	})
}
