package model

import "errors"

var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrParticipantNotFound is returned when a user is not part of a session.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrFileNotFound is returned when a file is not attached to a session.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidMessage is returned when a protocol message lacks a required field.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrRecordingNotFound is returned when no activity recording exists for a session.
	ErrRecordingNotFound = errors.New("recording not found")
)
