// Package domain defines the core entities, ports, and saga state machine
// shared by every participant service.
package domain

import (
	"context"
	"errors"
)

// Error taxonomy (sentinels). Wrapped with fmt.Errorf("op=...: %w", err) at
// each layer boundary so callers can still errors.Is against these.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")
	ErrRateLimited     = errors.New("rate limited")

	// ErrTerminalOrder is returned when a mutation is attempted against an
	// order whose status is already Delivered or Canceled (§4.1 invariant 2).
	ErrTerminalOrder = errors.New("order is in a terminal state")

	// ErrStaleTransition is returned when the orchestrator refuses a
	// transition because its precondition is not present in the saga log
	// (§5, causal ordering) or because a duplicate response was already
	// applied (§4.1 invariant 3).
	ErrStaleTransition = errors.New("transition precondition not satisfied")

	// ErrUnknownOrder marks a response/event that references an order_id
	// the service has no record of. Per §7 kind 3, these are logged and
	// acknowledged, never requeued.
	ErrUnknownOrder = errors.New("unknown order")
)

// Context is a type alias to stdlib context.Context so every port in this
// package reads consistently without each file importing "context".
type Context = context.Context
