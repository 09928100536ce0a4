package ws

import (
	"encoding/json"
	"fmt"

	"github.com/shared-code-editor/backend/internal/model"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeJoin          MessageType = "join"
	MessageTypeLeave         MessageType = "leave" // also relayed Server -> Client
	MessageTypeContentChange MessageType = "content-change"
	MessageTypeCursorChange  MessageType = "cursor-change"
	MessageTypeFileUpload    MessageType = "file-upload"
	MessageTypeFileDelete    MessageType = "file-delete"

	// Server -> Client message types
	MessageTypeUserUpdate     MessageType = "user-update"
	MessageTypeFileListUpdate MessageType = "file-list-update"
)

// Message represents a WebSocket message. Which fields are set depends on Type.
type Message struct {
	Type      MessageType        `json:"type"`
	SessionID string             `json:"sessionId"`
	UserID    string             `json:"userId,omitempty"`
	User      *model.Participant `json:"user,omitempty"`
	Content   *string            `json:"content,omitempty"`
	Language  string             `json:"language,omitempty"`
	Cursor    *model.Cursor      `json:"cursor,omitempty"`
	File      *model.File        `json:"file,omitempty"`
	FileID    string             `json:"fileId,omitempty"`
}

// FileListMessage carries a full replacement of a session's file list.
// Files is always serialized, even when empty.
type FileListMessage struct {
	Type      MessageType  `json:"type"`
	SessionID string       `json:"sessionId"`
	Files     []model.File `json:"files"`
}

// ParseMessage decodes a single frame.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks that the fields required for the message type are present.
func (m *Message) Validate() error {
	if m.SessionID == "" {
		return fmt.Errorf("%w: %s without sessionId", model.ErrInvalidMessage, m.Type)
	}

	switch m.Type {
	case MessageTypeJoin:
		if m.User == nil || m.User.ID == "" {
			return fmt.Errorf("%w: join without user id", model.ErrInvalidMessage)
		}
	case MessageTypeLeave:
		if m.UserID == "" {
			return fmt.Errorf("%w: leave without userId", model.ErrInvalidMessage)
		}
	case MessageTypeContentChange:
		if m.Content == nil {
			return fmt.Errorf("%w: content-change without content", model.ErrInvalidMessage)
		}
	case MessageTypeCursorChange:
		if m.UserID == "" || m.Cursor == nil {
			return fmt.Errorf("%w: cursor-change without userId or cursor", model.ErrInvalidMessage)
		}
	case MessageTypeFileUpload:
		if m.File == nil || m.File.ID == "" {
			return fmt.Errorf("%w: file-upload without file id", model.ErrInvalidMessage)
		}
	case MessageTypeFileDelete:
		if m.FileID == "" {
			return fmt.Errorf("%w: file-delete without fileId", model.ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unsupported type %q", model.ErrInvalidMessage, m.Type)
	}
	return nil
}

// NewContentMessage builds a content-change message.
func NewContentMessage(sessionID, userID, content, language string) *Message {
	return &Message{
		Type:      MessageTypeContentChange,
		SessionID: sessionID,
		UserID:    userID,
		Content:   &content,
		Language:  language,
	}
}

// NewCursorMessage builds a cursor-change message.
func NewCursorMessage(sessionID, userID string, cursor model.Cursor) *Message {
	return &Message{
		Type:      MessageTypeCursorChange,
		SessionID: sessionID,
		UserID:    userID,
		Cursor:    &cursor,
	}
}

// NewUserUpdateMessage builds a user-update message.
func NewUserUpdateMessage(sessionID string, user *model.Participant) *Message {
	return &Message{
		Type:      MessageTypeUserUpdate,
		SessionID: sessionID,
		User:      user.Clone(),
	}
}

// NewLeaveMessage builds a leave notice.
func NewLeaveMessage(sessionID, userID string) *Message {
	return &Message{
		Type:      MessageTypeLeave,
		SessionID: sessionID,
		UserID:    userID,
	}
}

// NewFileListMessage builds a file-list-update message.
func NewFileListMessage(sessionID string, files []model.File) *FileListMessage {
	if files == nil {
		files = []model.File{}
	}
	return &FileListMessage{
		Type:      MessageTypeFileListUpdate,
		SessionID: sessionID,
		Files:     files,
	}
}
