// ABOUTME: Wire message shape exchanged between embedded clients and the coordinator.
// ABOUTME: Fixed type enum plus an opaque payload; unknown types are ignorable.

package wire

import (
	"encoding/json"
	"fmt"
)

// Type identifies the kind of message being sent. The set is fixed;
// receivers must skip messages with a type they do not recognize rather
// than treating them as an error.
type Type string

const (
	TypeDebug             Type = "DEBUG"
	TypeZipData           Type = "ZIP_DATA"
	TypeSetCommitMessage  Type = "SET_COMMIT_MESSAGE"
	TypeHeartbeat         Type = "HEARTBEAT"
	TypeHeartbeatAck      Type = "HEARTBEAT_ACK"
	TypeUploadStatus      Type = "UPLOAD_STATUS"
	TypeSettingsChanged   Type = "GITHUB_SETTINGS_CHANGED"
	TypeContentReady      Type = "CONTENT_SCRIPT_READY"
	TypeOpenSettings      Type = "OPEN_SETTINGS"
	TypeImportPrivateRepo Type = "IMPORT_PRIVATE_REPO"
)

// knownTypes is the set of types this build understands.
var knownTypes = map[Type]bool{
	TypeDebug:             true,
	TypeZipData:           true,
	TypeSetCommitMessage:  true,
	TypeHeartbeat:         true,
	TypeHeartbeatAck:      true,
	TypeUploadStatus:      true,
	TypeSettingsChanged:   true,
	TypeContentReady:      true,
	TypeOpenSettings:      true,
	TypeImportPrivateRepo: true,
}

// Known reports whether t is part of the fixed message set.
func (t Type) Known() bool {
	return knownTypes[t]
}

// Message is the unit of transfer. Data is arbitrary structured content
// and may be nil. A Message is immutable once constructed; nothing in
// this module mutates Data after New returns.
type Message struct {
	Type Type `json:"type"`
	Data any  `json:"data,omitempty"`
}

// New builds a message of the given type carrying data.
func New(t Type, data any) Message {
	return Message{Type: t, Data: data}
}

// Encode serializes the message to its JSON wire form. Payloads the
// encoder cannot represent (cycles, channels, functions) surface as an
// error here; callers treat that as a transport failure, not a crash.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", m.Type, err)
	}
	return b, nil
}

// Decode parses a message from its JSON wire form. Messages with an
// unrecognized type decode successfully; callers check Known to decide
// whether to dispatch or skip them.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("decoding message: missing type")
	}
	return m, nil
}
