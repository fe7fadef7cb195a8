package screener

import "errors"

var (
	// ErrConversationNotFound is returned when the conversation id does not
	// resolve to a live (non-discarded) conversation.
	ErrConversationNotFound = errors.New("screener: conversation not found")

	// ErrConversationNotActive is returned when a message arrives for a
	// conversation that is completed, abandoned or paused for a crisis.
	ErrConversationNotActive = errors.New("screener: conversation is not active")

	// ErrNoPendingPivot is returned when a safety response arrives for a
	// conversation that is not crisis-paused.
	ErrNoPendingPivot = errors.New("screener: no safety pivot awaiting a response")

	// ErrEmptyMessage is returned for blank or whitespace-only user input.
	ErrEmptyMessage = errors.New("screener: message content is empty")

	// ErrUnknownSafetyResponse is returned for safety pivot answers outside
	// the safe/need_help/exit vocabulary. Nothing is mutated in that case.
	ErrUnknownSafetyResponse = errors.New("screener: unknown safety response")

	// ErrStatusConflict is returned when a status transition loses a race or
	// is not a legal lifecycle step.
	ErrStatusConflict = errors.New("screener: conversation status conflict")
)
