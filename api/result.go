// Package api
// Author: momentics@gmail.com
//
// Command outcome reported by handlers, with an explicit postponed state.

package api

// Outcome is what a command handler reports for one command.
type Outcome int

const (
	// OutcomeFalse replies the command as failed.
	OutcomeFalse Outcome = iota
	// OutcomeTrue replies the command as succeeded.
	OutcomeTrue
	// OutcomePending keeps the command open; the handler replies later.
	OutcomePending
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTrue:
		return "true"
	case OutcomeFalse:
		return "false"
	case OutcomePending:
		return "pending"
	}
	return "unknown"
}

// OutcomeOf converts a boolean reply into an Outcome.
func OutcomeOf(ok bool) Outcome {
	if ok {
		return OutcomeTrue
	}
	return OutcomeFalse
}

