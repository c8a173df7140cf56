package errors

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalid       = errors.New("invalid")
	ErrConflict      = errors.New("conflict")
	ErrInternal      = errors.New("internal")
	ErrEmptyDocument = errors.New("document is empty")
	ErrAIUnavailable = errors.New("ai provider unavailable")

	// ErrGenerationInterrupted marks a response that was cut off mid-stream.
	// Whatever text was produced before the cut is still persisted.
	ErrGenerationInterrupted = errors.New("generation interrupted")

	// ErrDegradedEscalation means the escalation record exists but the ticket
	// could not be delivered to the ticketing collaborator.
	ErrDegradedEscalation = errors.New("escalation delivery degraded")

	ErrToolFailed = errors.New("tool failed")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
