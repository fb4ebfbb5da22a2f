// Package gateway defines the Gateway interface and provides implementations
// for routing orders to a brokerage and querying their state.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"tradeease/internal/domain"
)

// Gateway abstracts brokerage operations for order placement, modification,
// and status queries.
type Gateway interface {
	// Name returns the gateway identifier (e.g. "kite", "sim").
	Name() string

	// SubmitOrder sends an order to the brokerage and returns the broker
	// order ID on acceptance.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error)

	// ModifyOrder changes the price, quantity, or order type of a pending
	// order. Zero-valued fields in mod are left unchanged.
	ModifyOrder(ctx context.Context, orderID string, mod domain.OrderModification) error

	// CancelOrder requests cancellation of a pending order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// OrderStatus returns the current broker-side snapshot of one order.
	// It returns ErrUnknownOrder when the broker does not know the ID.
	OrderStatus(ctx context.Context, orderID string) (*domain.OrderSnapshot, error)

	// ListOrders returns snapshots of every order the broker knows for the
	// current trading session.
	ListOrders(ctx context.Context) ([]domain.OrderSnapshot, error)

	// Profile returns the authenticated user's profile.
	Profile(ctx context.Context) (*domain.Profile, error)

	// SetAccessToken installs or replaces the session token. An empty token
	// de-authenticates the gateway.
	SetAccessToken(token string)

	// Authenticated reports whether the gateway currently holds a session
	// token it believes to be valid.
	Authenticated() bool
}

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// ErrNotAuthenticated is returned when the gateway has no session token or
// the broker reported the token as expired.
var ErrNotAuthenticated = errors.New("gateway: not authenticated")

// ErrUnknownOrder is returned when the broker has no record of the requested
// order ID.
var ErrUnknownOrder = errors.New("gateway: unknown order")

// TransportError wraps a network or protocol failure. Callers treat it as
// retryable: the order's last known state stands until the next poll.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectionError is a definitive refusal from the broker: the request was
// delivered and denied. It is not retryable.
type RejectionError struct {
	Code    string // broker error type, e.g. "InputException"
	Message string
}

func (e *RejectionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: rejected (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("gateway: rejected: %s", e.Message)
}

// IsRetryable reports whether err is a transient failure worth retrying, as
// opposed to a definitive broker refusal.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
