package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"diet-coach/internal/calendar"
	"diet-coach/internal/logging"
	"diet-coach/internal/mealplan"
	"diet-coach/internal/swap"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const maxUploadBytes = 10 << 20

type (
	modeRequest struct {
		Mode string `json:"mode" validate:"required,oneof=ai-scan voice search"`
	}

	textRequest struct {
		Text string `json:"text" validate:"required,max=500"`
	}

	selectRequest struct {
		DishID int64 `json:"dishId" validate:"required,gt=0"`
	}

	keywordRequest struct {
		Keyword string `json:"q" validate:"max=100"`
	}

	searchQuery struct {
		Keyword string `query:"q" validate:"required,max=100"`
		Page    int    `query:"page" validate:"min=0"`
	}
)

// Handler serves the calendar and swap flow of the signed-in user.
type Handler struct {
	sessions  *calendar.Registry
	validator *validator.Validate
	logger    *zap.Logger
}

func NewHandler(sessions *calendar.Registry, validate *validator.Validate, logger *zap.Logger) *Handler {
	return &Handler{sessions: sessions, validator: validate, logger: logging.OrNop(logger)}
}

func (h *Handler) session(c *fiber.Ctx) (*calendar.Session, error) {
	userID, ok := AuthUserID(c)
	if !ok {
		return nil, fiber.NewError(http.StatusUnauthorized, "not signed in")
	}
	return h.sessions.Get(userID), nil
}

// loaded returns the user's session with the plan fetched.
func (h *Handler) loaded(c *fiber.Ctx) (*calendar.Session, error) {
	sess, err := h.session(c)
	if err != nil {
		return nil, err
	}
	if err := sess.Calendar.EnsureLoaded(c.UserContext()); err != nil {
		return nil, err
	}
	return sess, nil
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status, _ := classify(err)
	if status >= http.StatusInternalServerError {
		userID, _ := AuthUserID(c)
		h.logger.Error("request failed",
			zap.String("route", c.Route().Path), zap.String("user_id", userID), zap.Error(err))
	}
	return errorResponse(c, err)
}

// Week returns the desktop grid.
func (h *Handler) Week(c *fiber.Ctx) error {
	sess, err := h.loaded(c)
	if err != nil {
		return h.fail(c, err)
	}
	return successJSON(c, sess.Calendar.Grid())
}

// Day returns the mobile day view.
func (h *Handler) Day(c *fiber.Ctx) error {
	sess, err := h.loaded(c)
	if err != nil {
		return h.fail(c, err)
	}
	return successJSON(c, sess.Calendar.Day())
}

// MoveWeek handles /calendar/week/next and /calendar/week/prev. Moving past
// either end is a no-op.
func (h *Handler) MoveWeek(c *fiber.Ctx) error {
	sess, err := h.loaded(c)
	if err != nil {
		return h.fail(c, err)
	}
	switch c.Params("dir") {
	case "next":
		sess.Calendar.Next()
	case "prev":
		sess.Calendar.Prev()
	default:
		return errorJSON(c, http.StatusBadRequest, "direction must be next or prev")
	}
	return successJSON(c, sess.Calendar.Grid())
}

// Today moves the window back to today.
func (h *Handler) Today(c *fiber.Ctx) error {
	sess, err := h.loaded(c)
	if err != nil {
		return h.fail(c, err)
	}
	sess.Calendar.ShowToday()
	return successJSON(c, sess.Calendar.Day())
}

// SelectDay picks the day shown on the mobile view.
func (h *Handler) SelectDay(c *fiber.Ctx) error {
	sess, err := h.loaded(c)
	if err != nil {
		return h.fail(c, err)
	}
	idx, err := c.ParamsInt("idx")
	if err != nil || idx < 0 || idx >= mealplan.DaysPerWeek {
		return errorJSON(c, http.StatusBadRequest, fmt.Sprintf("day index must be 0-%d", mealplan.DaysPerWeek-1))
	}
	if err := sess.Calendar.SelectDay(idx); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return successJSON(c, sess.Calendar.Day())
}

// CheckIn confirms one meal.
func (h *Handler) CheckIn(c *fiber.Ctx) error {
	sess, err := h.loaded(c)
	if err != nil {
		return h.fail(c, err)
	}
	mealID, err := paramID(c, "id")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if err := sess.Calendar.CheckIn(c.UserContext(), mealID); err != nil {
		return h.fail(c, err)
	}
	return successJSON(c, sess.Calendar.Day())
}

// outcome is one meal of a mark-all batch as the API reports it.
type outcome struct {
	MealID   int64  `json:"mealId"`
	MealName string `json:"mealName"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// MarkAllDone checks in every unchecked meal of one type on one day.
func (h *Handler) MarkAllDone(c *fiber.Ctx) error {
	sess, err := h.loaded(c)
	if err != nil {
		return h.fail(c, err)
	}
	day, err := c.ParamsInt("day")
	if err != nil || day < 1 {
		return errorJSON(c, http.StatusBadRequest, "day must be a positive number")
	}
	mealType, err := mealplan.ParseMealType(c.Params("type"))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	results, err := sess.Calendar.MarkAllDone(c.UserContext(), day, mealType)
	if err != nil {
		return h.fail(c, err)
	}
	outcomes := make([]outcome, 0, len(results))
	for _, r := range results {
		o := outcome{MealID: r.MealID, MealName: r.MealName, OK: r.OK()}
		if r.Err != nil {
			o.Error = userMessage(r.Err)
		}
		outcomes = append(outcomes, o)
	}
	return successJSON(c, fiber.Map{"outcomes": outcomes, "day": sess.Calendar.Day()})
}

// OpenSwap starts the swap flow for a meal.
func (h *Handler) OpenSwap(c *fiber.Ctx) error {
	sess, err := h.loaded(c)
	if err != nil {
		return h.fail(c, err)
	}
	mealID, err := paramID(c, "id")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	target, err := sess.Calendar.OpenSwap(mealID)
	if err != nil {
		return h.fail(c, err)
	}
	if err := sess.Swap.Open(target); err != nil {
		return h.fail(c, err)
	}
	return successJSON(c, sess.Swap.Status())
}

// SwapStatus returns the current swap flow.
func (h *Handler) SwapStatus(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	return successJSON(c, sess.Swap.Status())
}

// SwapMode switches the input tab.
func (h *Handler) SwapMode(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	req := new(modeRequest)
	if err := h.bind(c, req); err != nil {
		return h.fail(c, err)
	}
	mode, err := swap.ParseMode(req.Mode)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if err := sess.Swap.SelectMode(mode); err != nil {
		return h.fail(c, err)
	}
	return successJSON(c, sess.Swap.Status())
}

// SwapText analyzes a typed meal description.
func (h *Handler) SwapText(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	req := new(textRequest)
	if err := h.bind(c, req); err != nil {
		return h.fail(c, err)
	}
	return h.submitted(c, sess, sess.Swap.SubmitText(c.UserContext(), req.Text))
}

// SwapImage analyzes an uploaded meal photo from the "image" form field.
func (h *Handler) SwapImage(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	fh, err := c.FormFile("image")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "image file is required")
	}
	data, err := readUpload(fh)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return h.submitted(c, sess, sess.Swap.SubmitImage(c.UserContext(), fh.Filename, data))
}

// SwapVoice transcribes and analyzes a recording from the "audio" form field.
func (h *Handler) SwapVoice(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	if !sess.Swap.VoiceSupported() {
		return h.fail(c, swap.ErrVoiceUnsupported)
	}
	fh, err := c.FormFile("audio")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "audio file is required")
	}
	data, err := readUpload(fh)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return h.submitted(c, sess, sess.Swap.SubmitVoice(c.UserContext(), fh.Header.Get(fiber.HeaderContentType), data))
}

// SwapSearch runs a dish catalog search; page is 0-based.
func (h *Handler) SwapSearch(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	q := new(searchQuery)
	if err := c.QueryParser(q); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if err := h.validator.Struct(q); err != nil {
		return h.fail(c, err)
	}
	if _, err := sess.Swap.Search(c.UserContext(), q.Keyword, q.Page); err != nil {
		return h.fail(c, err)
	}
	return successJSON(c, sess.Swap.Status())
}

// SwapQuery schedules an as-you-type search. Keystrokes inside the debounce
// window collapse into one backend call; results are read back from SwapStatus.
// An empty keyword clears the results.
func (h *Handler) SwapQuery(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	req := new(keywordRequest)
	if err := h.bind(c, req); err != nil {
		return h.fail(c, err)
	}
	// the search outlives the request
	ctx := context.WithoutCancel(c.UserContext())
	if err := sess.Swap.Query(ctx, req.Keyword, nil); err != nil {
		return h.fail(c, err)
	}
	return successJSON(c, sess.Swap.Status())
}

// SwapSelect confirms a dish from the last search results.
func (h *Handler) SwapSelect(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	req := new(selectRequest)
	if err := h.bind(c, req); err != nil {
		return h.fail(c, err)
	}
	dish, ok := sess.Swap.Dish(req.DishID)
	if !ok {
		return errorJSON(c, http.StatusNotFound, "dish is not in the current results")
	}
	return h.submitted(c, sess, sess.Swap.SelectDish(c.UserContext(), dish))
}

// SwapClose dismisses the flow.
func (h *Handler) SwapClose(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	sess.Swap.Close()
	return successJSON(c, sess.Swap.Status())
}

// submitted reports a swap submission. A failed backend call leaves the flow
// in its error state, which is returned alongside the error status.
func (h *Handler) submitted(c *fiber.Ctx, sess *calendar.Session, err error) error {
	st := sess.Swap.Status()
	if err == nil {
		return successJSON(c, st)
	}
	if st.State != swap.StateError {
		return h.fail(c, err)
	}
	status, message := classify(err)
	return c.Status(status).JSON(response{Success: false, Message: message, Data: st})
}

// Evaluation returns the visible week's score.
func (h *Handler) Evaluation(c *fiber.Ctx) error {
	sess, err := h.loaded(c)
	if err != nil {
		return h.fail(c, err)
	}
	return successJSON(c, sess.Calendar.Evaluation())
}

// Advance moves past a passed week, extending the plan on its last week.
func (h *Handler) Advance(c *fiber.Ctx) error {
	return h.planAction(c, (*calendar.Calendar).AdvanceWeek)
}

// ResetWeeks restarts the plan from week one.
func (h *Handler) ResetWeeks(c *fiber.Ctx) error {
	return h.planAction(c, (*calendar.Calendar).ResetToWeekOne)
}

// Generate creates a first plan. It does not require a loaded plan.
func (h *Handler) Generate(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	if err := sess.Calendar.Generate(c.UserContext()); err != nil {
		return h.fail(c, err)
	}
	return successJSON(c, sess.Calendar.Grid())
}

// Regenerate replaces the plan.
func (h *Handler) Regenerate(c *fiber.Ctx) error {
	return h.planAction(c, (*calendar.Calendar).Regenerate)
}

// Extend appends a week to the plan.
func (h *Handler) Extend(c *fiber.Ctx) error {
	return h.planAction(c, (*calendar.Calendar).Extend)
}

func (h *Handler) planAction(c *fiber.Ctx, action func(*calendar.Calendar, context.Context) error) error {
	sess, err := h.loaded(c)
	if err != nil {
		return h.fail(c, err)
	}
	if err := action(sess.Calendar, c.UserContext()); err != nil {
		return h.fail(c, err)
	}
	return successJSON(c, sess.Calendar.Grid())
}

// Logout drops the user's session.
func (h *Handler) Logout(c *fiber.Ctx) error {
	userID, ok := AuthUserID(c)
	if !ok {
		return errorJSON(c, http.StatusUnauthorized, "not signed in")
	}
	h.sessions.Drop(userID)
	return successJSON(c, nil)
}

func (h *Handler) bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	return h.validator.Struct(req)
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New(name + " must be a positive number")
	}
	return id, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxUploadBytes {
		return nil, fmt.Errorf("file is larger than %d MB", maxUploadBytes>>20)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxUploadBytes))
}

func userMessage(err error) string {
	_, message := classify(err)
	return message
}
