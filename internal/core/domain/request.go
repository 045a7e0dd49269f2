package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RequestState string

const (
	RequestStateRequested RequestState = "requested"
	RequestStateOrdered   RequestState = "ordered"
	RequestStateReceived  RequestState = "received"
	RequestStateDelivered RequestState = "delivered"
	RequestStateRejected  RequestState = "rejected"
)

// Terminal reports whether the state ends the request lifecycle. received and
// delivered both mean the demand is satisfied: received via manual
// reconciliation, delivered via auto-allocation.
func (s RequestState) Terminal() bool {
	switch s {
	case RequestStateReceived, RequestStateDelivered, RequestStateRejected:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether next is a legal forward transition.
func (s RequestState) CanTransitionTo(next RequestState) bool {
	switch s {
	case RequestStateRequested:
		return next == RequestStateOrdered || next == RequestStateRejected || next == RequestStateDelivered
	case RequestStateOrdered:
		return next == RequestStateReceived || next == RequestStateDelivered || next == RequestStateRejected
	default:
		return false
	}
}

// MaterialRequest is an outstanding demand for stock at a site. Requests are
// never deleted, only transitioned to a terminal state.
type MaterialRequest struct {
	ID          string
	Site        string
	Item        ItemIdentity
	Quantity    decimal.Decimal
	TaskID      string
	State       RequestState
	RequestedBy string
	ApprovedBy  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Open reports whether the request is still eligible for allocation.
func (r MaterialRequest) Open() bool {
	return r.State == RequestStateRequested || r.State == RequestStateOrdered
}
