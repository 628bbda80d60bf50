package interfaces

import "errors"

// Store-level errors shared by SessionStore implementations and their callers
var (
	ErrClientNotFound      = errors.New("client not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrActiveSessionExists = errors.New("an active session already exists for this client")
	ErrSessionNotActive    = errors.New("session is not active")
)
