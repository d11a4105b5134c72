package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-center/internal/observability"
)

const requestIDLocalKey = "requestid"

// RequestID accepts the caller's X-Request-ID or assigns a new one and
// echoes it on the response.
func RequestID() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		Generator:  uuid.NewString,
		ContextKey: requestIDLocalKey,
	})
}

// Correlate copies the request id onto the user context so services log it
// as correlationId. It must run after RequestID.
func Correlate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := CorrelationID(c); id != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		}
		return c.Next()
	}
}

func CorrelationID(c *fiber.Ctx) string {
	if value, ok := c.Locals(requestIDLocalKey).(string); ok {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
}
