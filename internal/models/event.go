package models

import "time"

// EventStatus is the closed set of tool-invocation outcomes journaled
// by the policy engine.
type EventStatus string

const (
	StatusOK     EventStatus = "ok"
	StatusDenied EventStatus = "denied"
	StatusError  EventStatus = "error"
)

// Event is one append-only record of a tool invocation. It is never
// mutated after insert; rate-limit windows are computed by counting
// rows whose OccurredAt falls in the window.
type Event struct {
	ID              uint        `gorm:"primarykey" json:"id"`
	OccurredAt      time.Time   `gorm:"not null;index:idx_events_tool_agent_time,priority:3" json:"occurred_at"`
	ToolName        string      `gorm:"size:128;not null;index:idx_events_tool_agent_time,priority:1" json:"tool_name"`
	AgentID         *string     `gorm:"size:255;index:idx_events_tool_agent_time,priority:2" json:"agent_id"`
	Status          string      `gorm:"size:16;not null" json:"status"`
	RequestDigest   string      `gorm:"type:text" json:"request_digest"`
	ResponseDigest  string      `gorm:"type:text" json:"response_digest"`
	ErrorKind       *string     `gorm:"size:64" json:"error_kind"`
}

func (Event) TableName() string {
	return "events"
}
