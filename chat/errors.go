package chat

import "errors"

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrSessionBusy    = errors.New("session is awaiting a response")
	ErrClosed         = errors.New("orchestrator is shut down")
	ErrInvalidMood    = errors.New("invalid emotion")
)
