package sessions

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionDestroyed is yielded by SendMessage on a destroyed session.
	ErrSessionDestroyed = errors.New("session destroyed")

	// ErrTurnInFlight is yielded when SendMessage is called while another
	// turn is still streaming. Turns are rejected, never queued.
	ErrTurnInFlight = errors.New("another turn is already in flight")

	// ErrFollowUpNotSupported is yielded on the second SendMessage of a
	// session whose model only supports a single exchange.
	ErrFollowUpNotSupported = errors.New("model does not support follow-up turns")
)

// ConversationLimitError reports that the remaining context window cannot
// fit another meaningful exchange.
type ConversationLimitError struct {
	Available int
	Required  int
}

func (e *ConversationLimitError) Error() string {
	return fmt.Sprintf("conversation limit reached: %d tokens available, %d required for another exchange", e.Available, e.Required)
}
