package session

import "errors"

var (
	// ErrClosed is returned when a control call reaches a closed session
	ErrClosed = errors.New("session closed")

	// ErrReleased is returned when the manager was released while a connect was in flight
	ErrReleased = errors.New("session released during connect")

	// ErrNilConnector is returned when a manager is built without a connector
	ErrNilConnector = errors.New("required connector is nil")
)
