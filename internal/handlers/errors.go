package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/golang/glog"

	"github.com/trentd187/scorecard-sync/internal/merge"
	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// DeviceHeader carries the id of the device making a write. Events caused by the
// write are stamped with it, so the device can recognise its own echoes.
const DeviceHeader = "X-Device-ID"

// requestContext returns the context store calls of this request run under.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if device := c.Get(DeviceHeader); device != "" {
		ctx = store.WithOrigin(ctx, device)
	}
	return ctx
}

// storeError maps a store, repository or merge error to an HTTP response.
func storeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, msg = fiber.StatusNotFound, "not found"
	case errors.Is(err, repository.ErrInvalidKey), errors.Is(err, merge.ErrInvalidInput):
		status, msg = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrContention):
		status, msg = fiber.StatusConflict, "too many concurrent writers, try again"
	case errors.Is(err, store.ErrUnsupported):
		status, msg = fiber.StatusNotImplemented, "not supported by this store"
	case errors.Is(err, store.ErrOffline):
		status, msg = fiber.StatusServiceUnavailable, "store unreachable"
	default:
		glog.Errorf("[api] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
