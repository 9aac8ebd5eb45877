// Package models defines the core domain types for exinstaller.
package models

import "time"

// Status is the state carried by a Message.
type Status string

const (
	StatusInfo    Status = "info"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Message is the result record a worker task posts to its queue.
// It is passed by value and never modified once posted.
type Message struct {
	Status Status `json:"status"`
	Topic  string `json:"topic"`
	Data   any    `json:"data"`
}

// NewMessage builds a Message.
func NewMessage(status Status, topic string, data any) Message {
	return Message{Status: status, Topic: topic, Data: data}
}

// Terminal reports whether the message ends a monitoring cycle.
func (m Message) Terminal() bool {
	return m.Status == StatusSuccess || m.Status == StatusError
}

// Phase names what a view is waiting for.
type Phase string

// PhaseNone is the idle phase.
const PhaseNone Phase = "none"

// Run is the persisted record of one worker task.
type Run struct {
	ID        string    `json:"id"`
	Tool      string    `json:"tool"`
	Name      string    `json:"name"`
	Args      []string  `json:"args"`
	Status    Status    `json:"status"`
	Topic     string    `json:"topic"`
	Data      string    `json:"data"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Install records a successful upload of a product to a device.
type Install struct {
	ID          string    `json:"id"`
	Product     string    `json:"product"`
	Version     string    `json:"version"`
	Device      string    `json:"device"`
	FQBN        string    `json:"fqbn"`
	Port        string    `json:"port"`
	InstalledAt time.Time `json:"installed_at"`
}

// AuditEntry is a decision record for a state-changing installer action.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
