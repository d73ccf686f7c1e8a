package domain

import (
	"encoding/json"
	"time"
)

// ActionType identifies which processor handles an action. The set is open;
// these are the types the photo app ships with.
type ActionType string

const (
	TypeSearch           ActionType = "search"
	TypeIndex            ActionType = "index"
	TypeTag              ActionType = "tag"
	TypeExport           ActionType = "export"
	TypeDelete           ActionType = "delete"
	TypeCreateCollection ActionType = "create_collection"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSynced     Status = "synced"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ValidTransition reports whether the status state machine allows from -> to.
// SYNCED and CANCELLED are terminal until cleared; FAILED re-enters the queue
// only through an explicit retry.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusSynced || to == StatusFailed
	case StatusFailed:
		return to == StatusQueued
	}
	return false
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank orders priorities for scheduling; higher runs first. Unknown values
// schedule as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Conflict resolution strategies understood by the resolver registry.
const (
	StrategyLastWriteWins = "last-write-wins"
	StrategyLocalWins     = "local-wins"
	StrategyRemoteWins    = "remote-wins"
)

// Context is the provenance snapshot captured when an action is created.
// Informational only; never mutated afterwards.
type Context struct {
	SessionID     string    `json:"session_id,omitempty"`
	DeviceID      string    `json:"device_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// LastError records the most recent processing failure.
type LastError struct {
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	At      time.Time `json:"at"`
}

// Metadata is the mutable execution state of an action.
type Metadata struct {
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	RetryCount          int        `json:"retry_count"`
	MaxRetries          int        `json:"max_retries"`
	LastError           *LastError `json:"last_error,omitempty"`
	RequiresNetwork     bool       `json:"requires_network"`
	RequiresInteraction bool       `json:"requires_interaction"`
	ConflictStrategy    string     `json:"conflict_strategy,omitempty"`
	// NextAttemptAt gates re-selection after a failed attempt (exponential
	// backoff). Zero means eligible immediately.
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
}

// Action is the unit of queued work. Payload is opaque to the queue and
// consumed only by the processor registered for Type.
type Action struct {
	ID           string          `json:"id"`
	Type         ActionType      `json:"type"`
	Status       Status          `json:"status"`
	Priority     Priority        `json:"priority"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Context      Context         `json:"context"`
	Metadata     Metadata        `json:"metadata"`
	Dependencies []string        `json:"dependencies,omitempty"`
	GroupID      string          `json:"group_id,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
}

// Clone returns a deep copy safe to hand to callers and listeners.
func (a Action) Clone() Action {
	c := a
	if a.Payload != nil {
		c.Payload = append(json.RawMessage(nil), a.Payload...)
	}
	if a.Dependencies != nil {
		c.Dependencies = append([]string(nil), a.Dependencies...)
	}
	if a.Tags != nil {
		c.Tags = append([]string(nil), a.Tags...)
	}
	if a.Metadata.LastError != nil {
		e := *a.Metadata.LastError
		c.Metadata.LastError = &e
	}
	return c
}

// Filter selects actions for queries. Dimensions compose with AND; values
// within a multi-valued dimension compose with OR. Tags match if the action
// carries any of the listed tags.
type Filter struct {
	Types         []ActionType
	Statuses      []Status
	Priorities    []Priority
	GroupID       string
	Tags          []string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

func (f Filter) Match(a Action) bool {
	if len(f.Types) > 0 && !containsType(f.Types, a.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, a.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !containsPriority(f.Priorities, a.Priority) {
		return false
	}
	if f.GroupID != "" && a.GroupID != f.GroupID {
		return false
	}
	if len(f.Tags) > 0 && !anyTag(f.Tags, a.Tags) {
		return false
	}
	if !f.CreatedAfter.IsZero() && a.Metadata.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !a.Metadata.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

func containsType(set []ActionType, v ActionType) bool {
	for _, t := range set {
		if t == v {
			return true
		}
	}
	return false
}

func containsStatus(set []Status, v Status) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsPriority(set []Priority, v Priority) bool {
	for _, p := range set {
		if p == v {
			return true
		}
	}
	return false
}

func anyTag(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}

// Statistics summarizes the current action set.
type Statistics struct {
	Total        int                `json:"total"`
	Queued       int                `json:"queued"`
	Processing   int                `json:"processing"`
	Synced       int                `json:"synced"`
	Failed       int                `json:"failed"`
	Cancelled    int                `json:"cancelled"`
	ByType       map[ActionType]int `json:"by_type"`
	ByPriority   map[Priority]int   `json:"by_priority"`
	OldestQueued time.Time          `json:"oldest_queued,omitempty"`
	NewestQueued time.Time          `json:"newest_queued,omitempty"`
}
