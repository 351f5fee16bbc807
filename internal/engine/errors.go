package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload marks frames or bodies that cannot be decoded.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnknownDrone marks messages that reference an unregistered drone.
	ErrUnknownDrone = errors.New("unknown drone")
	// ErrDuplicateSession marks a session id that was already ingested.
	ErrDuplicateSession = errors.New("duplicate session")
	// ErrUnknownCommand marks an unrecognised command verb.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidArguments marks a command with missing or unparsable arguments.
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrReferenceNotFound marks a command naming a session, drone or bait
	// user that does not exist.
	ErrReferenceNotFound = errors.New("reference not found")
	// ErrStoreUnavailable marks a persistence failure. It stops the engine.
	ErrStoreUnavailable = errors.New("store unavailable")
)

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// dropReason maps a rejection error onto the dropped-sessions metric label.
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateSession):
		return "duplicate"
	case errors.Is(err, ErrUnknownDrone):
		return "unknown_drone"
	default:
		return "malformed"
	}
}
