package web

import (
	"errors"
	"net/http"

	"diet-coach/internal/calendar"
	"diet-coach/internal/coach"
	"diet-coach/internal/mealplan"
	"diet-coach/internal/swap"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// response mirrors the coaching backend's envelope so clients parse both the same way.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func successJSON(c *fiber.Ctx, data any) error {
	return c.Status(http.StatusOK).JSON(response{Success: true, Data: data})
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(response{Success: false, Message: message})
}

// errorResponse maps a calendar, swap or backend error to a status and a message for the user.
func errorResponse(c *fiber.Ctx, err error) error {
	status, message := classify(err)
	return errorJSON(c, status, message)
}

func classify(err error) (int, string) {
	var (
		apiErr   *coach.APIError
		netErr   *coach.NetworkError
		valErrs  validator.ValidationErrors
		fiberErr *fiber.Error
	)
	switch {
	case errors.Is(err, calendar.ErrFutureDay):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, calendar.ErrBusy),
		errors.Is(err, calendar.ErrNotPassed),
		errors.Is(err, calendar.ErrStale),
		errors.Is(err, swap.ErrFlowOpen),
		errors.Is(err, swap.ErrFlowClosed),
		errors.Is(err, swap.ErrSubmitting),
		errors.Is(err, swap.ErrWrongMode),
		errors.Is(err, swap.ErrStale):
		return http.StatusConflict, err.Error()
	case errors.Is(err, swap.ErrVoiceUnsupported):
		return http.StatusNotImplemented, err.Error()
	case errors.Is(err, mealplan.ErrNoPlan),
		errors.Is(err, mealplan.ErrMealNotFound),
		errors.Is(err, mealplan.ErrDayNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, coach.ErrInvalidPayload), errors.As(err, &valErrs):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &fiberErr):
		return fiberErr.Code, fiberErr.Message
	case errors.As(err, &apiErr):
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return apiErr.Status, coach.UserMessage(err)
		}
		return http.StatusBadGateway, coach.UserMessage(err)
	case errors.As(err, &netErr):
		return http.StatusBadGateway, coach.UserMessage(err)
	}
	return http.StatusInternalServerError, coach.UserMessage(err)
}
