// Package core holds the room/presence model and the signaling event
// vocabulary. It never touches transport resources; adapters own those.
package core

// Frame is an encoded signaling event ready for the wire.
type Frame []byte

// SessionID identifies one physical connection.
type SessionID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
