package notifications

import (
	"time"

	"carbon-scribe/verification-service/internal/verification"
)

// Message types exchanged with progress subscribers
const (
	MessageTypeProgress  = "progress"
	MessageTypeSubscribe = "subscribe"
	MessageTypeStatus    = "status"
)

// Message is the WebSocket frame sent to and received from dashboards
type Message struct {
	Type      string              `json:"type"`
	Event     *verification.Event `json:"event,omitempty"`
	Filter    *Filter             `json:"filter,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Filter narrows which events a subscriber receives. Empty fields match everything.
type Filter struct {
	SubmissionID string            `json:"submission_id,omitempty"`
	Kind         verification.Kind `json:"kind,omitempty"`
}

// Matches reports whether event passes the filter
func (f Filter) Matches(event verification.Event) bool {
	if f.SubmissionID != "" && f.SubmissionID != event.SubmissionID {
		return false
	}
	if f.Kind != "" && f.Kind != event.Kind {
		return false
	}
	return true
}
