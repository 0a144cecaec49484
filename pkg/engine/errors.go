package engine

import "errors"

// User-facing messages carried by ErrorEvent.
const (
	MsgNoActivePrompts = "There needs to be one active prompt to play."
	MsgConnectionError = "Connection error, please restart audio."
)

var (
	// ErrNoActivePrompts is returned when every prompt is silent or filtered
	ErrNoActivePrompts = errors.New("no active prompts")

	// ErrInvalidPrompt is returned when a prompt fails validation
	ErrInvalidPrompt = errors.New("invalid prompt")

	// ErrUnknownPrompt is returned when a prompt id is not in the current set
	ErrUnknownPrompt = errors.New("unknown prompt id")

	// ErrEngineClosed is returned when the engine has been closed
	ErrEngineClosed = errors.New("engine closed")

	// ErrPlayAborted is returned when Play is superseded by Pause or Stop before it finishes
	ErrPlayAborted = errors.New("play superseded")
)
