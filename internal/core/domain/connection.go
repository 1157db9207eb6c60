package domain

import "time"

type ClientID string
type SessionID string

// ConnectionState is owned by the connection manager and read by everything else.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

type StateChange struct {
	From    ConnectionState
	To      ConnectionState
	Target  string
	Session SessionID
	At      time.Time
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
