package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/consult-payments/internal/domain"
	"go.uber.org/zap"
)

// APIError is an error with an HTTP status and a stable machine-readable code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// ToHTTPError maps domain errors to API errors. Unknown errors pass through
// and render as 500.
func ToHTTPError(err error) error {
	if err == nil {
		return nil
	}

	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = fiber.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, domain.ErrNoCreditAvailable):
		status, code = fiber.StatusBadRequest, "NoCreditAvailable"
	case errors.Is(err, domain.ErrValidation):
		status, code = fiber.StatusBadRequest, "ValidationError"
	case errors.Is(err, domain.ErrUnknownOrder):
		status, code = fiber.StatusNotFound, "UnknownOrder"
	case errors.Is(err, domain.ErrNotFound):
		status, code = fiber.StatusNotFound, "NotFound"
	case errors.Is(err, domain.ErrConflict):
		status, code = fiber.StatusConflict, "Conflict"
	case errors.Is(err, domain.ErrGatewayRejected):
		status, code = fiber.StatusUnprocessableEntity, "GatewayRejected"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		status, code = fiber.StatusBadGateway, "GatewayUnavailable"
	default:
		return err
	}

	return &APIError{Status: status, Code: code, Message: err.Error()}
}

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		body := fiber.Map{}

		var apiErr *APIError
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &apiErr):
			code = apiErr.Status
			body["code"] = apiErr.Code
			body["error"] = apiErr.Message
		case errors.As(err, &fiberErr):
			code = fiberErr.Code
			body["error"] = fiberErr.Message
		default:
			// Internal details stay in the log.
			body["error"] = "internal server error"
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if requestID, ok := c.Locals("requestid").(string); ok && requestID != "" {
			fields = append(fields, zap.String("correlationId", requestID))
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Warn("request rejected", fields...)
		}

		return c.Status(code).JSON(body)
	}
}
