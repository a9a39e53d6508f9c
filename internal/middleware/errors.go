package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

type errorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Path      string    `json:"path"`
}

// ErrorHandler renders every error returned by a handler as a JSON body
// carrying the status code, message and request path.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	message := "internal error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		message = fe.Message
	}

	return c.Status(status).JSON(errorResponse{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     message,
		Path:      c.Path(),
	})
}
