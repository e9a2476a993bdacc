package domain

import "time"

// EventType names a session lifecycle step.
type EventType string

const (
	EventLogin            EventType = "login"
	EventRefresh          EventType = "refresh"
	EventLogout           EventType = "logout"
	EventLogoutEverywhere EventType = "logout_everywhere"
	EventTokenReuse       EventType = "refresh_token_reuse"
)

// AuthEvent is one auth lifecycle event fanned out to OTel logs and Kafka. It never carries
// secrets or raw tokens.
type AuthEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	IdentityID    string    `json:"identity_id,omitempty"`
	Email         string    `json:"email,omitempty"`
	Outcome       string    `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	DeviceInfo    string    `json:"device_info,omitempty"`
	SourceAddress string    `json:"source_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
