package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrUnknownOrder means a signal referenced an order the store has never seen.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrNoCreditAvailable is the expected "pay first" outcome of a credit claim.
	ErrNoCreditAvailable = errors.New("no unused payment credit available")

	ErrUnauthorized = errors.New("unauthorized")

	// ErrGatewayUnavailable covers network failures, timeouts and 5xx answers from the gateway.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayRejected covers validation failures reported by the gateway.
	ErrGatewayRejected = errors.New("payment gateway rejected request")
)
