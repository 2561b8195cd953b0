package hsaj

import (
	"errors"
	"fmt"
)

// CandidateStatus is the lifecycle state of a block candidate.
// The zero value is invalid so an unset status is never mistaken for planned.
type CandidateStatus int

const (
	StatusPlanned CandidateStatus = iota + 1
	StatusQuarantined
	StatusRestored
)

// AllStatuses lists every valid status in lifecycle order.
var AllStatuses = []CandidateStatus{StatusPlanned, StatusQuarantined, StatusRestored}

// String returns the persisted name of the status.
func (s CandidateStatus) String() string {
	switch s {
	case StatusPlanned:
		return "planned"
	case StatusQuarantined:
		return "quarantined"
	case StatusRestored:
		return "restored"
	default:
		return fmt.Sprintf("CandidateStatus(%d)", int(s))
	}
}

// Valid reports whether s is one of the defined statuses.
func (s CandidateStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusQuarantined, StatusRestored:
		return true
	}
	return false
}

// ParseCandidateStatus converts a persisted status name back into a CandidateStatus.
func ParseCandidateStatus(raw string) (CandidateStatus, error) {
	for _, s := range AllStatuses {
		if s.String() == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown candidate status %q", raw)
}

// ErrInvalidTransition is matched by every *TransitionError.
var ErrInvalidTransition = errors.New("invalid candidate status transition")

// TransitionError describes a rejected status change.
type TransitionError struct {
	From CandidateStatus
	To   CandidateStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid candidate status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// transitions enumerates every legal status change.
//
//	planned     -> quarantined  executor moved the file
//	planned     -> restored     block disappeared from the feed
//	quarantined -> restored     block disappeared, or operator restore
//	restored    -> planned      block reappeared
var transitions = map[CandidateStatus]map[CandidateStatus]bool{
	StatusPlanned:     {StatusQuarantined: true, StatusRestored: true},
	StatusQuarantined: {StatusRestored: true},
	StatusRestored:    {StatusPlanned: true},
}

// CanTransition reports whether a candidate may move from one status to another.
func CanTransition(from, to CandidateStatus) bool {
	return transitions[from][to]
}

// Transition validates a status change, returning a *TransitionError when it is illegal.
func Transition(from, to CandidateStatus) (CandidateStatus, error) {
	if !CanTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}
