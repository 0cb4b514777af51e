package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-engine/internal/domain"
)

// toHTTPError maps domain errors onto HTTP statuses. Rate limit and store
// errors pass through to transport.ErrorHandler, which owns Retry-After and
// hides storage details from the response.
func toHTTPError(err error) error {
	var (
		rateErr     *domain.RateLimitError
		deliveryErr *domain.DeliveryError
		storeErr    *domain.StoreError
	)

	switch {
	case err == nil:
		return nil
	case errors.As(err, &rateErr), errors.As(err, &storeErr):
		return err
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrIllegalState):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.As(err, &deliveryErr):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return err
	}
}
