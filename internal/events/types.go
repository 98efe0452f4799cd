// Package events publishes the outcome of every PSK installation on a
// gookit/event manager. Payloads carry public data only.
package events

import "time"

const (
	EventPSKInstalled = "psk.installed"
	EventPSKFailed    = "psk.failed"
)

// PSKInstalledEvent is fired after a backend accepted a PSK.
type PSKInstalledEvent struct {
	Interface string        `json:"interface"`
	PeerID    string        `json:"peer_id"`
	Backend   string        `json:"backend"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// PSKFailedEvent is fired when a backend rejected a PSK.
type PSKFailedEvent struct {
	Interface string        `json:"interface"`
	PeerID    string        `json:"peer_id"`
	Backend   string        `json:"backend"`
	ErrorKind string        `json:"error_kind"`
	Retryable bool          `json:"retryable"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}
