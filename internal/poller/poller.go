// Package poller observes worker queues from the UI thread.
//
// A Bubble Tea view never blocks on a queue. It schedules Monitor, which
// checks the queue after a short interval and either reports the first
// terminal message or asks to be rescheduled.
package poller

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

// DefaultInterval is the delay between two checks of a queue.
const DefaultInterval = 100 * time.Millisecond

// Poller schedules queue checks.
type Poller struct {
	Interval time.Duration
}

// New creates a Poller. A non-positive interval uses DefaultInterval.
func New(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{Interval: interval}
}

// ResultMsg carries the terminal message of a monitoring cycle.
type ResultMsg struct {
	Event    string
	Message  models.Message
	Progress []models.Message

	queue *worker.Queue
}

// PendingMsg reports that no terminal message has arrived yet. The view
// passes it back to Continue.
type PendingMsg struct {
	Event    string
	Progress []models.Message

	queue *worker.Queue
}

func (p *Poller) interval() time.Duration {
	if p == nil || p.Interval <= 0 {
		return DefaultInterval
	}
	return p.Interval
}

// Monitor returns a command that checks q once after the poll interval.
func (p *Poller) Monitor(q *worker.Queue, event string) tea.Cmd {
	return tea.Tick(p.interval(), func(time.Time) tea.Msg {
		return check(q, event)
	})
}

// Continue reschedules a pending cycle.
func (p *Poller) Continue(m PendingMsg) tea.Cmd {
	return p.Monitor(m.queue, m.Event)
}

func check(q *worker.Queue, event string) tea.Msg {
	msg, progress, ok := Drain(q)
	if ok {
		return ResultMsg{Event: event, Message: msg, Progress: progress, queue: q}
	}
	return PendingMsg{Event: event, Progress: progress, queue: q}
}

// Drain takes messages from q up to and including the first terminal one.
// Info messages before it are returned as progress. Messages after the
// terminal one stay queued.
func Drain(q *worker.Queue) (models.Message, []models.Message, bool) {
	var progress []models.Message
	for {
		m, ok := q.TryGet()
		if !ok {
			return models.Message{}, progress, false
		}
		if m.Terminal() {
			return m, progress, true
		}
		progress = append(progress, m)
	}
}

// Await blocks until a terminal message arrives on q or ctx is done.
// onInfo, if set, is called for every info message.
func Await(ctx context.Context, q *worker.Queue, onInfo func(models.Message)) (models.Message, error) {
	for {
		m, err := q.Get(ctx)
		if err != nil {
			return models.Message{}, err
		}
		if m.Terminal() {
			return m, nil
		}
		if onInfo != nil {
			onInfo(m)
		}
	}
}
