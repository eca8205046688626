package state

import "fmt"

// OrderStatus is the lifecycle state of an order. Numeric values are stable
// and appear in snapshots, projections and the wire format.
type OrderStatus uint8

const (
	StatusActive         OrderStatus = 1
	StatusPartial        OrderStatus = 2
	StatusFilled         OrderStatus = 3
	StatusCancelled      OrderStatus = 4
	StatusMatchedPending OrderStatus = 5
)

func (s OrderStatus) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusPartial:
		return "Partial"
	case StatusFilled:
		return "Filled"
	case StatusCancelled:
		return "Cancelled"
	case StatusMatchedPending:
		return "MatchedPending"
	default:
		return fmt.Sprintf("OrderStatus(%d)", uint8(s))
	}
}

// ParseOrderStatus accepts the names returned by String.
func ParseOrderStatus(name string) (OrderStatus, error) {
	switch name {
	case "Active":
		return StatusActive, nil
	case "Partial":
		return StatusPartial, nil
	case "Filled":
		return StatusFilled, nil
	case "Cancelled":
		return StatusCancelled, nil
	case "MatchedPending":
		return StatusMatchedPending, nil
	}
	return 0, fmt.Errorf("unknown order status %q", name)
}

// Valid reports whether s is one of the defined statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPartial, StatusFilled, StatusCancelled, StatusMatchedPending:
		return true
	}
	return false
}

// IsOpen reports whether the order can still be cancelled or matched.
func (s OrderStatus) IsOpen() bool {
	switch s {
	case StatusActive, StatusPartial:
		return true
	case StatusFilled, StatusCancelled, StatusMatchedPending:
		return false
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled:
		return true
	case StatusActive, StatusPartial, StatusMatchedPending:
		return false
	}
	return false
}

// CanTransitionTo encodes the order state machine:
//
//	Active         -> Partial | Filled | MatchedPending | Cancelled
//	Partial        -> Partial | Filled | MatchedPending | Cancelled
//	MatchedPending -> Active | Partial | Filled
//	Filled, Cancelled are terminal
//
// MatchedPending -> Active happens only when a reservation taken on an
// Active order is released.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case StatusActive:
		switch next {
		case StatusPartial, StatusFilled, StatusMatchedPending, StatusCancelled:
			return true
		}
		return false
	case StatusPartial:
		switch next {
		case StatusPartial, StatusFilled, StatusMatchedPending, StatusCancelled:
			return true
		}
		return false
	case StatusMatchedPending:
		switch next {
		case StatusActive, StatusPartial, StatusFilled:
			return true
		}
		return false
	case StatusFilled, StatusCancelled:
		return false
	}
	return false
}
