package core

import "errors"

var ErrBackpressure = errors.New("backpressure")

// SignalError is a failure reported back to the sender as an error event.
// Only a fatal error terminates the connection; every other code leaves the
// connection open and never affects other participants.
type SignalError struct {
	Code    string
	Message string
	Fatal   bool
}

func (e *SignalError) Error() string { return e.Code + ": " + e.Message }

var (
	ErrAuthenticationRequired = &SignalError{Code: "authentication_required", Message: "no identity on this connection", Fatal: true}
	ErrAccessDenied           = &SignalError{Code: "access_denied", Message: "not authorized for this meeting"}
	ErrNotInvited             = &SignalError{Code: "not_invited", Message: "not invited to this meeting"}
	ErrMeetingNotFound        = &SignalError{Code: "meeting_not_found", Message: "meeting not found"}
	ErrMeetingCancelled       = &SignalError{Code: "meeting_cancelled", Message: "meeting has been cancelled"}
	ErrRoomNotFound           = &SignalError{Code: "room_not_found", Message: "unknown or expired room token"}
	ErrMalformedMessage       = &SignalError{Code: "malformed_message", Message: "missing required message fields"}
	ErrTargetNotPresent       = &SignalError{Code: "target_not_present", Message: "target is not in the room"}
	ErrNotModerator           = &SignalError{Code: "not_moderator", Message: "moderator privileges required"}
	ErrRoomFull               = &SignalError{Code: "room_full", Message: "meeting is at max participants"}
)

// AsSignalError unwraps err into the taxonomy, defaulting to a generic
// recoverable access_denied so internal errors never leak to clients.
func AsSignalError(err error) *SignalError {
	var se *SignalError
	if errors.As(err, &se) {
		return se
	}
	return ErrAccessDenied
}
