package mwah

import (
	"errors"
	"fmt"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is returned when the relay answers a REST call with a non-2xx status.
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

var (
	ErrInvalidRoomCode  = errors.New("room code must be 8 characters")
	ErrMissingSenderID  = errors.New("sender id is required")
	ErrMissingEndpoint  = errors.New("endpoint is required")
	ErrUnsupportedEvent = errors.New("unsupported outbound event")
)

// ============================================================================
// Channel Configuration
// ============================================================================

// ChannelConfig identifies one side of a room on a relay. It is fixed for the
// lifetime of a single Connect call.
type ChannelConfig struct {
	RoomCode string
	SenderID string
	Endpoint string
}

// Validate reports whether the config can be used to open a channel.
func (c ChannelConfig) Validate() error {
	if len(c.RoomCode) != RoomCodeLength {
		return ErrInvalidRoomCode
	}
	if c.SenderID == "" {
		return ErrMissingSenderID
	}
	if c.Endpoint == "" {
		return ErrMissingEndpoint
	}
	return nil
}

// ConnectionState represents the room connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// ============================================================================
// Inbound Events
// ============================================================================

// InboundEvent is one decoded message received from the partner.
// The concrete type is one of Heart, Status, Presence, Unknown or Snapshot.
type InboundEvent interface {
	inbound()
}

// Heart is a "thinking of you" ping. ID may be empty, in which case the heart
// is never deduplicated.
type Heart struct {
	ID string
}

// Status carries the partner's do-not-disturb flag.
type Status struct {
	DoNotDisturb bool
}

// Presence is a bare liveness ping.
type Presence struct{}

// Unknown is a well-formed message whose type is missing or not recognized.
type Unknown struct {
	Type string
	Raw  string
}

// Snapshot marks the initial full-state push some relays send on subscribe.
// It is logged and never dispatched.
type Snapshot struct{}

func (Heart) inbound()    {}
func (Status) inbound()   {}
func (Presence) inbound() {}
func (Unknown) inbound()  {}
func (Snapshot) inbound() {}

// Envelope pairs a decoded event with the identity of whoever sent it.
type Envelope struct {
	Sender string
	Event  InboundEvent
}

// ============================================================================
// Outbound Events
// ============================================================================

// OutboundEvent is a message this client publishes to the room.
// The concrete type is one of SendHeart, SendStatus or SendPresence.
type OutboundEvent interface {
	outbound()
}

// SendHeart publishes a heart. An empty ID is filled with a fresh UUID.
type SendHeart struct {
	ID string
}

// SendStatus publishes the local do-not-disturb flag.
type SendStatus struct {
	DoNotDisturb bool
}

// SendPresence publishes a liveness ping.
type SendPresence struct{}

func (SendHeart) outbound()    {}
func (SendStatus) outbound()   {}
func (SendPresence) outbound() {}
