package engine

import "errors"

type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindState      Kind = "state"
)

// Error is a rejected game operation. None of them change state.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrInvalidRange       = &Error{Kind: KindValidation, Code: "InvalidRange", Message: "number out of range"}
	ErrAlreadyChosen      = &Error{Kind: KindConflict, Code: "AlreadyChosen", Message: "number already chosen"}
	ErrAlreadyQueued      = &Error{Kind: KindConflict, Code: "AlreadyQueued", Message: "already waiting for the next session"}
	ErrSessionClosed      = &Error{Kind: KindState, Code: "SessionClosed", Message: "session is not accepting changes"}
	ErrSessionFull        = &Error{Kind: KindState, Code: "SessionFull", Message: "session is full"}
	ErrNotParticipant     = &Error{Kind: KindState, Code: "NotParticipant", Message: "not a participant of the session"}
	ErrNoActiveSession    = &Error{Kind: KindState, Code: "NoActiveSession", Message: "no active session"}
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// KindOf returns the kind of a game error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError unwraps err to its game error, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
