// handlers/response.go
package handlers

import (
	"fmt"
	"math"

	"design-battle-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var statusByKind = map[services.ErrorKind]int{
	services.KindValidation:      fiber.StatusBadRequest,
	services.KindUnauthenticated: fiber.StatusUnauthorized,
	services.KindForbidden:       fiber.StatusForbidden,
	services.KindConflict:        fiber.StatusForbidden,
	services.KindState:           fiber.StatusForbidden,
	services.KindNotFound:        fiber.StatusNotFound,
	services.KindRateLimit:       fiber.StatusTooManyRequests,
	services.KindInternal:        fiber.StatusInternalServerError,
}

// respond writes the {success, message, ...payload} envelope.
func respond(c *fiber.Ctx, status int, message string, payload fiber.Map) error {
	body := fiber.Map{"success": true, "message": message}
	for k, v := range payload {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}

// respondError maps a service error onto its status code. The error detail is
// only included when exposeDetail is set (non-production).
func respondError(c *fiber.Ctx, err error, exposeDetail bool) error {
	kind := services.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = fiber.StatusInternalServerError
	}

	message := "internal server error"
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		message = svcErr.Message
	}

	if status >= fiber.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"component": "http",
			"method":    c.Method(),
			"path":      c.Path(),
		}).WithError(err).Error("request failed")
	}

	body := fiber.Map{"success": false, "message": message}
	if exposeDetail {
		body["error"] = fmt.Sprintf("%+v", err)
	}
	return c.Status(status).JSON(body)
}

type pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

func newPagination(page, limit int, total int64) pagination {
	f := services.ListFilter{Page: page, Limit: limit}
	f.Normalize()
	return pagination{
		Page:  f.Page,
		Limit: f.Limit,
		Total: total,
		Pages: int(math.Ceil(float64(total) / float64(f.Limit))),
	}
}
