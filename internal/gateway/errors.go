package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/consult-payments/internal/domain"
)

// GatewayError classifies gateway call failures as transient or permanent.
// Transient failures match domain.ErrGatewayUnavailable, permanent ones
// domain.ErrGatewayRejected.
type GatewayError struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
	Transient  bool
	Cause      error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "gateway error")

	if op := strings.TrimSpace(e.Operation); op != "" {
		parts = append(parts, op)
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if code := strings.TrimSpace(e.Code); code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *GatewayError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case domain.ErrGatewayUnavailable:
		return e.Transient
	case domain.ErrGatewayRejected:
		return !e.Transient
	}
	return false
}

// IsTransient reports whether a call is worth retrying later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
