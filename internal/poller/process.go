package poller

import (
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

// Process tracks the phase of one view and the outcome of its tasks.
// It is owned by the Bubble Tea model and only touched from Update.
type Process struct {
	Phase    models.Phase
	Status   models.Status
	Topic    string
	Data     any
	Info     string
	Running  bool
	Activity string
	Err      string

	poller *Poller
	queue  *worker.Queue
}

// NewProcess creates an idle process with its own queue.
func NewProcess(p *Poller) *Process {
	return &Process{
		Phase:  models.PhaseNone,
		poller: p,
		queue:  worker.NewQueue(),
	}
}

// Queue returns the queue tasks for this view post to.
func (p *Process) Queue() *worker.Queue {
	return p.queue
}

// Start enters phase and begins monitoring the queue. The caller starts the
// task.
func (p *Process) Start(phase models.Phase, activity, event string) tea.Cmd {
	slog.Debug("process start", "phase", phase, "event", event)
	p.Phase = phase
	p.Running = true
	p.Activity = activity
	p.Err = ""
	p.Info = ""
	return p.poller.Monitor(p.queue, event)
}

// Stop returns to the idle phase.
func (p *Process) Stop() {
	slog.Debug("process stop", "phase", p.Phase)
	p.Phase = models.PhaseNone
	p.Running = false
	p.Activity = ""
}

// Fail stops the process and records text as the error to show.
func (p *Process) Fail(text string) {
	slog.Error("process error", "phase", p.Phase, "error", text)
	p.Stop()
	p.Err = text
}

// Receive records the terminal message of the current cycle.
func (p *Process) Receive(m ResultMsg) {
	p.Status = m.Message.Status
	p.Topic = m.Message.Topic
	p.Data = m.Message.Data
}

// Update handles poll messages that belong to this process. done is true
// when msg ended a cycle; res then holds the terminal message and the
// caller dispatches on p.Phase.
func (p *Process) Update(msg tea.Msg) (res ResultMsg, done bool, cmd tea.Cmd) {
	switch msg := msg.(type) {
	case PendingMsg:
		if msg.queue != p.queue {
			return ResultMsg{}, false, nil
		}
		p.noteProgress(msg.Progress)
		return ResultMsg{}, false, p.poller.Continue(msg)
	case ResultMsg:
		if msg.queue != p.queue {
			return ResultMsg{}, false, nil
		}
		p.noteProgress(msg.Progress)
		p.Receive(msg)
		return msg, true, nil
	}
	return ResultMsg{}, false, nil
}

// Owns reports whether msg is a poll message for this process.
func (p *Process) Owns(msg tea.Msg) bool {
	switch msg := msg.(type) {
	case PendingMsg:
		return msg.queue == p.queue
	case ResultMsg:
		return msg.queue == p.queue
	}
	return false
}

func (p *Process) noteProgress(progress []models.Message) {
	if len(progress) == 0 {
		return
	}
	last := progress[len(progress)-1]
	p.Info = worker.DataString(last.Data)
}
