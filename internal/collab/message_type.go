package collab

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a message on the client/server wire using a typed enum
// rather than bare strings.
type EventType string

const (
	// Client -> Server
	EventJoinRoom         EventType = "join_room"
	EventLeaveRoom        EventType = "leave_room"
	EventClientCursor     EventType = "client_cursor"
	EventClientTextUpdate EventType = "client_text_update"

	// Server -> Client
	EventPresenceSync     EventType = "presence_sync"
	EventUserJoined       EventType = "user_joined"
	EventUserLeft         EventType = "user_left"
	EventRemoteCursor     EventType = "remote_cursor"
	EventRemoteTextUpdate EventType = "remote_text_update"
	EventError            EventType = "error"
)

// String returns the string representation of the EventType.
func (t EventType) String() string {
	return string(t)
}

// IsClientEvent reports whether t is one of the events a client may send.
// Anything else arriving on the socket is malformed.
func (t EventType) IsClientEvent() bool {
	switch t {
	case EventJoinRoom, EventLeaveRoom, EventClientCursor, EventClientTextUpdate:
		return true
	default:
		return false
	}
}

// Message is the wire envelope for both directions. Data stays raw until the
// handler for the concrete type decodes it.
type Message struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Validate checks the envelope of an inbound message.
func (m *Message) Validate() error {
	if !m.Type.IsClientEvent() {
		return fmt.Errorf("invalid client event type: %q", m.Type)
	}
	return nil
}

// NewMessage builds a server-to-client message, marshalling the payload.
func NewMessage(eventType EventType, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Message{Type: eventType, Data: data}, nil
}

// Client -> Server payloads.

type JoinRoomData struct {
	NoteID string `json:"noteId"`
}

type CursorData struct {
	NoteID         string `json:"noteId"`
	CursorPosition int    `json:"cursorPosition"`
	SelectionEnd   *int   `json:"selectionEnd,omitempty"`
}

type TextUpdateData struct {
	NoteID  string `json:"noteId"`
	Content string `json:"content"`
}

// Server -> Client payloads.

type UserLeftData struct {
	UserID string `json:"userId"`
}

// RemoteCursorData is always built from the sender's authenticated identity.
// Identity fields arriving in a client payload are never echoed.
type RemoteCursorData struct {
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	Color          string `json:"color"`
	CursorPosition int    `json:"cursorPosition"`
	SelectionEnd   *int   `json:"selectionEnd,omitempty"`
}

type RemoteTextUpdateData struct {
	UserID    string `json:"userId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// NewErrorMessage builds the non-fatal application error event. The connection
// stays open after it is sent.
func NewErrorMessage(message string) *Message {
	msg, _ := NewMessage(EventError, ErrorData{Message: message})
	return msg
}

// NewRemoteTextUpdate stamps a relayed text change with the server clock.
func NewRemoteTextUpdate(userID, content string) RemoteTextUpdateData {
	return RemoteTextUpdateData{
		UserID:    userID,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}
