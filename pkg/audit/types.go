package audit

import (
	"encoding/json"
	"time"
)

// EventType categorizes an audit event.
type EventType string

// The event taxonomy. Authentication events carry the provider and backend
// that handled the login; provider events describe configuration changes made
// through the admin API.
const (
	EventLogin         EventType = "auth.login"
	EventLoginFailed   EventType = "auth.login_failed"
	EventLoginDenied   EventType = "auth.login_denied"
	EventLogout        EventType = "auth.logout"
	EventReplayBlocked EventType = "auth.replay_blocked"

	EventProviderCreated EventType = "provider.created"
	EventProviderUpdated EventType = "provider.updated"
	EventProviderDeleted EventType = "provider.deleted"

	EventSessionRevoked EventType = "session.revoked"
)

// EventStatus is the outcome of the audited action.
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusFailure EventStatus = "failure"
	StatusDenied  EventStatus = "denied"
)

// Event is a single audit trail entry.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor: the account the event concerns, when one is known. Failed
	// logins that never resolved an account leave these empty.
	AccountID  string `json:"account_id,omitempty"`
	Username   string `json:"username,omitempty"`
	ExternalID string `json:"external_id,omitempty"`

	// Where the login came from.
	Provider string `json:"provider,omitempty"`
	Backend  string `json:"backend,omitempty"`

	SessionID string `json:"session_id,omitempty"`

	// Request context.
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON serializes the event.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an event from JSON.
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter narrows an audit trail query. Zero-valued fields do not
// filter.
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	AccountID string
	Username  string
	Provider  string

	EventTypes []EventType
	Status     *EventStatus

	IPAddress string
	RequestID string

	Limit  int
	Offset int

	// SortOrder is "asc" or "desc" (default) over the event timestamp.
	SortOrder string
}

// ExportFormat selects the serialization for exported events.
type ExportFormat string

const (
	FormatJSON   ExportFormat = "json"
	FormatCSV    ExportFormat = "csv"
	FormatNDJSON ExportFormat = "ndjson"
)

// Stats summarizes the audit trail over a time range.
type Stats struct {
	TotalEvents    int64                 `json:"total_events"`
	EventsByType   map[EventType]int64   `json:"events_by_type"`
	EventsByStatus map[EventStatus]int64 `json:"events_by_status"`
	UniqueAccounts int64                 `json:"unique_accounts"`
	UniqueIPs      int64                 `json:"unique_ips"`
	FailedLogins   int64                 `json:"failed_logins"`
}
