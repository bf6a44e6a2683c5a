// internal/models/application.go
package models

import "time"

// Status is the application lifecycle state. An application starts pending and
// moves exactly once to accepted or denied.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDenied   Status = "denied"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusDenied
}

// Action is a reviewer decision.
type Action string

const (
	ActionAccept Action = "accept"
	ActionDeny   Action = "deny"
)

// TargetStatus returns the status an action transitions an application to.
func (a Action) TargetStatus() Status {
	if a == ActionAccept {
		return StatusAccepted
	}
	return StatusDenied
}

// DefaultReason returns the decision reason used when the reviewer supplies none.
func (a Action) DefaultReason() string {
	if a == ActionAccept {
		return "Accepted"
	}
	return "Denied"
}

type Application struct {
	ID             int64      `json:"id"`
	CandidateID    string     `json:"candidateId"`
	OriginID       string     `json:"originId"`
	FormKey        string     `json:"formKey"`
	Answers        []string   `json:"answers"`
	Status         Status     `json:"status"`
	ReviewerID     string     `json:"reviewerId,omitempty"`
	DecisionReason string     `json:"decisionReason,omitempty"`
	SubmittedAt    time.Time  `json:"submittedAt"`
	DecidedAt      *time.Time `json:"decidedAt,omitempty"`
}
