// Package lifecycle holds the loan status state machine.
//
// Transition is a pure function from (status, event) to the next status. An
// event that is illegal from the current status yields no transition; Fire
// turns that into a *TransitionError for callers that want an error value.
package lifecycle

import (
	"errors"
	"fmt"
)

// Status is the servicing status of a loan.
type Status string

const (
	StatusNone            Status = ""
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusActive          Status = "ACTIVE"
	StatusWithdrawn       Status = "WITHDRAWN"
	StatusRejected        Status = "REJECTED"
	StatusClosed          Status = "CLOSED"
	StatusOverpaid        Status = "OVERPAID"
)

var validStatuses = map[Status]bool{
	StatusPendingApproval: true,
	StatusApproved:        true,
	StatusActive:          true,
	StatusWithdrawn:       true,
	StatusRejected:        true,
	StatusClosed:          true,
	StatusOverpaid:        true,
}

// ParseStatus converts a stored status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return StatusNone, fmt.Errorf("invalid loan status: %q", s)
	}
	return st, nil
}

// IsTerminal reports whether no further servicing is expected. OVERPAID and
// CLOSED can still be left through repayment or rebate events.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusWithdrawn, StatusRejected, StatusClosed, StatusOverpaid:
		return true
	}
	return false
}

// Event drives a status change.
type Event string

const (
	EventCreate        Event = "CREATE"
	EventReject        Event = "REJECT"
	EventApprove       Event = "APPROVE"
	EventWithdraw      Event = "WITHDRAW"
	EventDisburse      Event = "DISBURSE"
	EventUndoApproval  Event = "UNDO_APPROVAL"
	EventUndoDisbursal Event = "UNDO_DISBURSAL"
	EventRepayment     Event = "REPAYMENT"
	EventRepaidInFull  Event = "REPAID_IN_FULL"
	EventWriteOff      Event = "WRITE_OFF"
	EventReschedule    Event = "RESCHEDULE"
	EventRebateOwed    Event = "REBATE_OWED"
	EventOverpayment   Event = "OVERPAYMENT"
)

// ErrInvalidTransition is matched by every *TransitionError.
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError reports an event that is illegal from the current status.
type TransitionError struct {
	From  Status
	Event Event
}

func (e *TransitionError) Error() string {
	from := string(e.From)
	if e.From == StatusNone {
		from = "<none>"
	}
	return fmt.Sprintf("%s: %s not allowed from %s", ErrInvalidTransition, e.Event, from)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Transition returns the status reached by applying ev to from. The boolean
// is false when ev is not legal from from; the returned status is then
// StatusNone and must not be used.
func Transition(from Status, ev Event) (Status, bool) {
	switch ev {
	case EventCreate:
		if from == StatusNone {
			return StatusPendingApproval, true
		}
	case EventReject:
		if from == StatusPendingApproval {
			return StatusRejected, true
		}
	case EventApprove:
		if from == StatusPendingApproval {
			return StatusApproved, true
		}
	case EventWithdraw:
		if from == StatusPendingApproval || from == StatusApproved {
			return StatusWithdrawn, true
		}
	case EventDisburse:
		if from == StatusApproved {
			return StatusActive, true
		}
	case EventUndoApproval:
		if from == StatusApproved {
			return StatusPendingApproval, true
		}
	case EventUndoDisbursal:
		if from == StatusActive {
			return StatusApproved, true
		}
	case EventRepayment:
		switch from {
		case StatusActive, StatusClosed, StatusOverpaid:
			return StatusActive, true
		}
		// Repayment is the one event that keeps the current status rather
		// than failing.
		return from, true
	case EventRepaidInFull, EventWriteOff, EventReschedule:
		if from == StatusActive {
			return StatusClosed, true
		}
	case EventRebateOwed:
		if from == StatusClosed || from == StatusOverpaid {
			return StatusClosed, true
		}
	case EventOverpayment:
		if from == StatusClosed || from == StatusActive {
			return StatusOverpaid, true
		}
	}
	return StatusNone, false
}

// Fire applies ev and returns a *TransitionError when it is not allowed.
func Fire(from Status, ev Event) (Status, error) {
	to, ok := Transition(from, ev)
	if !ok {
		return from, &TransitionError{From: from, Event: ev}
	}
	return to, nil
}
