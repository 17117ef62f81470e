package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"diet-coach/internal/logging"
	"diet-coach/internal/mealplan"
	"diet-coach/internal/swap"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrFutureDay = errors.New("meals from a future day cannot be checked in yet")
	ErrBusy      = errors.New("this action is already in progress")
	ErrNotPassed = errors.New("the week has not been passed yet")
	ErrClosed    = errors.New("calendar closed")
	ErrStale     = errors.New("response arrived after a newer request")
)

const (
	evaluationKey = "evaluation"
	planKey       = "plan"
	// maxParallelCheckIns bounds the batch check-in fan-out.
	maxParallelCheckIns = 4
)

// Backend is the slice of the coaching backend the calendar needs.
type Backend interface {
	CurrentPlan(ctx context.Context) (*mealplan.MealPlan, error)
	GeneratePlan(ctx context.Context) (*mealplan.MealPlan, error)
	RegeneratePlan(ctx context.Context) (*mealplan.MealPlan, error)
	ExtendPlan(ctx context.Context) (*mealplan.MealPlan, error)
	ResetPlan(ctx context.Context) (*mealplan.MealPlan, error)
	CheckIn(ctx context.Context, mealID int64) error
}

// NoticeKind classifies a user notification.
type NoticeKind string

const (
	NoticeNewWeek NoticeKind = "new-week"
)

// Notice is a one-off message for the user, such as "week 3 is ready".
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Week    int        `json:"week"`
	Message string     `json:"message"`
}

// Notifier delivers notices to a user. It is called outside the calendar's lock.
type Notifier interface {
	Notify(userID string, n Notice)
}

// Options configures a Calendar.
type Options struct {
	Logger   *zap.Logger
	Notifier Notifier
	Location *time.Location
	Now      func() time.Time
}

// Calendar is one user's weekly meal-plan view: the fetched plan, local
// check-ins and swaps, and the visible week. All methods are safe for
// concurrent use; backend calls run without holding the lock.
type Calendar struct {
	userID   string
	backend  Backend
	logger   *zap.Logger
	notifier Notifier
	loc      *time.Location
	now      func() time.Time

	mu      sync.Mutex
	tracker *mealplan.Tracker
	window  mealplan.Window
	busy    map[string]struct{}
	gen     uint64
	closed  bool
}

// New creates an empty calendar for userID.
func New(userID string, backend Backend, opts Options) *Calendar {
	c := &Calendar{
		userID:   userID,
		backend:  backend,
		logger:   logging.OrNop(opts.Logger).With(zap.String("user_id", userID)),
		notifier: opts.Notifier,
		loc:      opts.Location,
		now:      opts.Now,
		tracker:  mealplan.NewTracker(),
		busy:     make(map[string]struct{}),
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// UserID returns the owner of the calendar.
func (c *Calendar) UserID() string { return c.userID }

func (c *Calendar) today() mealplan.Date {
	return mealplan.NewDate(c.now().In(c.loc))
}

type windowMode int

const (
	keepWindow windowMode = iota
	openOnToday
	openOnFirstWeek
)

// Load fetches the current plan. The first load opens the window on today.
func (c *Calendar) Load(ctx context.Context) error {
	return c.fetchPlan(ctx, "", c.backend.CurrentPlan, keepWindow)
}

// EnsureLoaded loads the plan unless one is installed. A concurrent first load
// that loses the race to another counts as success once a plan is installed.
func (c *Calendar) EnsureLoaded(ctx context.Context) error {
	if c.Loaded() {
		return nil
	}
	err := c.Load(ctx)
	if errors.Is(err, ErrStale) && c.Loaded() {
		return nil
	}
	return err
}

// Generate asks the backend for a first plan.
func (c *Calendar) Generate(ctx context.Context) error {
	return c.fetchPlan(ctx, planKey, c.backend.GeneratePlan, openOnToday)
}

// Regenerate replaces the plan with a new one.
func (c *Calendar) Regenerate(ctx context.Context) error {
	return c.fetchPlan(ctx, planKey, c.backend.RegeneratePlan, openOnToday)
}

// Extend adds a week to the plan.
func (c *Calendar) Extend(ctx context.Context) error {
	return c.fetchPlan(ctx, planKey, c.backend.ExtendPlan, keepWindow)
}

// Reset restarts the plan from week one.
func (c *Calendar) Reset(ctx context.Context) error {
	return c.fetchPlan(ctx, planKey, c.backend.ResetPlan, openOnFirstWeek)
}

// fetchPlan runs a plan request and installs its result unless a newer plan
// request started or the calendar closed meanwhile. A non-empty busyKey
// rejects duplicate submissions while the request is outstanding.
func (c *Calendar) fetchPlan(ctx context.Context, busyKey string, fetch func(context.Context) (*mealplan.MealPlan, error), mode windowMode) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if busyKey != "" {
		if !c.acquireLocked(busyKey) {
			c.mu.Unlock()
			return ErrBusy
		}
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	p, err := fetch(ctx)

	c.mu.Lock()
	if busyKey != "" {
		c.releaseLocked(busyKey)
	}
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		c.logger.Debug("discarding stale plan response")
		return ErrStale
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	notices := c.replaceLocked(p, mode)
	c.mu.Unlock()

	c.emit(notices)
	return nil
}

// replaceLocked installs p. Generate, Regenerate and Reset open on their own
// week even when the plan grew. Otherwise growth in weeks moves the window to
// the new last week and yields a single new-week notice.
func (c *Calendar) replaceLocked(p *mealplan.MealPlan, mode windowMode) []Notice {
	hadPlan := c.tracker.Loaded()
	extended := c.tracker.ReplacePlan(p)
	total := p.TotalWeeks()

	switch {
	case !hadPlan || mode == openOnToday:
		c.window = mealplan.InitialWindow(p.StartDate, c.now().In(c.loc), len(p.Days))
	case mode == openOnFirstWeek:
		c.window = mealplan.InitialWindow(p.StartDate, c.now().In(c.loc), len(p.Days))
		c.window.First()
	case extended:
		c.window.Resize(total)
		c.window.Last()
		c.logger.Info("plan extended", zap.Int("total_weeks", total))
		return []Notice{{
			Kind:    NoticeNewWeek,
			Week:    c.window.Week() + 1,
			Message: fmt.Sprintf("Week %d is ready. Keep it up!", c.window.Week()+1),
		}}
	default:
		c.window.Resize(total)
	}
	c.logger.Debug("plan replaced", zap.Int("days", len(p.Days)), zap.Int("week", c.window.Week()))
	return nil
}

func (c *Calendar) emit(notices []Notice) {
	if c.notifier == nil {
		return
	}
	for _, n := range notices {
		c.notifier.Notify(c.userID, n)
	}
}

func (c *Calendar) acquireLocked(key string) bool {
	if _, ok := c.busy[key]; ok {
		return false
	}
	c.busy[key] = struct{}{}
	return true
}

func (c *Calendar) releaseLocked(key string) {
	delete(c.busy, key)
}

// IsBusy reports whether an action with key is outstanding.
func (c *Calendar) IsBusy(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.busy[key]
	return ok
}

func mealKey(id int64) string { return fmt.Sprintf("meal:%d", id) }

// BatchKey is the busy key of a mark-all-done action.
func BatchKey(day int, t mealplan.MealType) string { return fmt.Sprintf("%d:%s", day, t) }

// lookupLocked finds a schedulable meal in the merged view and checks it is not in the future.
func (c *Calendar) lookupLocked(mealID int64) (*mealplan.MealPlan, mealplan.DayPlan, mealplan.Meal, error) {
	view := c.tracker.View()
	if view == nil {
		return nil, mealplan.DayPlan{}, mealplan.Meal{}, mealplan.ErrNoPlan
	}
	dayPos, mealPos, ok := view.FindMeal(mealID)
	if !ok {
		return nil, mealplan.DayPlan{}, mealplan.Meal{}, mealplan.ErrMealNotFound
	}
	day := view.Days[dayPos]
	if c.isFutureLocked(view, day.Day) {
		return nil, mealplan.DayPlan{}, mealplan.Meal{}, ErrFutureDay
	}
	return view, day, day.Meals[mealPos], nil
}

func (c *Calendar) isFutureLocked(p *mealplan.MealPlan, day int) bool {
	return mealplan.DaysBetween(c.today(), mealplan.NewDate(p.DateOf(day))) > 0
}

// CheckIn confirms a meal. The backend is called first; local state changes
// only once it succeeds. Checking in an already confirmed meal is a no-op.
func (c *Calendar) CheckIn(ctx context.Context, mealID int64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	_, _, meal, err := c.lookupLocked(mealID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if c.tracker.IsChecked(meal) {
		c.mu.Unlock()
		return nil
	}
	key := mealKey(mealID)
	if !c.acquireLocked(key) {
		c.mu.Unlock()
		return ErrBusy
	}
	gen := c.gen
	c.mu.Unlock()

	err = c.backend.CheckIn(ctx, mealID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(key)
	if err != nil {
		c.logger.Warn("check-in failed", zap.Int64("meal_id", mealID), zap.Error(err))
		return err
	}
	// a plan request started meanwhile; its payload owns the confirmed set
	if c.closed || gen != c.gen {
		c.logger.Debug("discarding check-in against a replaced plan", zap.Int64("meal_id", mealID))
		return ErrStale
	}
	c.applyCheckInLocked(mealID)
	return nil
}

func (c *Calendar) applyCheckInLocked(mealID int64) {
	if err := c.tracker.ApplyCheckIn(mealID); err != nil {
		// the plan was replaced while the request was in flight
		c.logger.Warn("dropping check-in for meal no longer in plan", zap.Int64("meal_id", mealID), zap.Error(err))
	}
}

// CheckInOutcome is the result of one meal within a batch check-in.
type CheckInOutcome struct {
	MealID   int64  `json:"mealId"`
	MealName string `json:"mealName"`
	Err      error  `json:"-"`
}

// OK reports whether the meal was checked in.
func (o CheckInOutcome) OK() bool { return o.Err == nil }

// MarkAllDone checks in every unchecked meal of one type on one plan day.
// Each meal is attempted independently, and the outcome of each is returned.
func (c *Calendar) MarkAllDone(ctx context.Context, day int, mealType mealplan.MealType) ([]CheckInOutcome, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	view := c.tracker.View()
	if view == nil {
		c.mu.Unlock()
		return nil, mealplan.ErrNoPlan
	}
	dayPos, ok := view.DayByIndex(day)
	if !ok {
		c.mu.Unlock()
		return nil, mealplan.ErrDayNotFound
	}
	if c.isFutureLocked(view, day) {
		c.mu.Unlock()
		return nil, ErrFutureDay
	}
	batchKey := BatchKey(day, mealType)
	if !c.acquireLocked(batchKey) {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	var pending []mealplan.Meal
	for _, m := range view.Days[dayPos].MealsOfType(mealType) {
		if c.tracker.IsChecked(m) || !c.acquireLocked(mealKey(m.ID)) {
			continue
		}
		pending = append(pending, m)
	}
	gen := c.gen
	c.mu.Unlock()

	outcomes := make([]CheckInOutcome, len(pending))
	var g errgroup.Group
	g.SetLimit(maxParallelCheckIns)
	for i, m := range pending {
		g.Go(func() error {
			outcomes[i] = CheckInOutcome{MealID: m.ID, MealName: m.MealName, Err: c.backend.CheckIn(ctx, m.ID)}
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(batchKey)
	stale := c.closed || gen != c.gen
	failed := 0
	for i, o := range outcomes {
		c.releaseLocked(mealKey(o.MealID))
		if o.Err != nil {
			failed++
			continue
		}
		if stale {
			outcomes[i].Err = ErrStale
			continue
		}
		c.applyCheckInLocked(o.MealID)
	}
	if stale {
		c.logger.Debug("discarding batch check-in against a replaced plan", zap.Int("day", day))
	}
	if failed > 0 {
		c.logger.Warn("batch check-in partially failed",
			zap.Int("day", day), zap.String("meal_type", string(mealType)),
			zap.Int("failed", failed), zap.Int("attempted", len(outcomes)))
	}
	return outcomes, nil
}

// OpenSwap validates that a meal can be swapped and builds the swap target.
func (c *Calendar) OpenSwap(mealID int64) (swap.Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return swap.Target{}, ErrClosed
	}
	_, day, meal, err := c.lookupLocked(mealID)
	if err != nil {
		return swap.Target{}, err
	}
	if _, busy := c.busy[mealKey(mealID)]; busy {
		return swap.Target{}, ErrBusy
	}
	return swap.Target{
		MealID:           meal.ID,
		PlannedMealID:    meal.PlannedMealID,
		Day:              day.Day,
		MealType:         meal.MealType,
		PreviousName:     meal.MealName,
		PreviousCalories: meal.ActualCalories(),
	}, nil
}

// ApplySwap records a swap confirmed by the backend. Lookup failures are
// logged and dropped: they only mean the plan changed under the swap.
func (c *Calendar) ApplySwap(day int, mealID int64, name string, calories int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err := c.tracker.ApplySwap(day, mealID, name, calories); err != nil {
		c.logger.Warn("dropping swap", zap.Int("day", day), zap.Int64("meal_id", mealID), zap.Error(err))
	}
}

// Next moves the window one week forward.
func (c *Calendar) Next() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window.Next()
}

// Prev moves the window one week back.
func (c *Calendar) Prev() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window.Prev()
}

// SelectDay picks the day (0-6) shown on the mobile surface.
func (c *Calendar) SelectDay(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window.SelectDay(i)
}

// ShowToday moves the window back to the week and day containing today.
func (c *Calendar) ShowToday() {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.tracker.Plan()
	if p == nil {
		return
	}
	c.window = mealplan.InitialWindow(p.StartDate, c.now().In(c.loc), len(p.Days))
}

// Loaded reports whether a plan has been fetched.
func (c *Calendar) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Loaded()
}

// Compliance scores the visible week.
func (c *Calendar) Compliance() mealplan.Compliance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complianceLocked(c.tracker.View())
}

func (c *Calendar) complianceLocked(view *mealplan.MealPlan) mealplan.Compliance {
	var days []mealplan.DayPlan
	if view != nil {
		days = c.window.Slice(view.Days)
	}
	return mealplan.ComputeCompliance(days, c.tracker.Confirmed())
}

// Evaluation is the end-of-week gate shown to the user.
type Evaluation struct {
	Week       int                 `json:"week"`
	TotalWeeks int                 `json:"totalWeeks"`
	IsLastWeek bool                `json:"isLastWeek"`
	Compliance mealplan.Compliance `json:"compliance"`
	CanAdvance bool                `json:"canAdvance"`
	Busy       bool                `json:"busy"`
}

// Evaluation reports the visible week's score and whether the user may move on.
func (c *Calendar) Evaluation() Evaluation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evaluationLocked(c.tracker.View())
}

func (c *Calendar) evaluationLocked(view *mealplan.MealPlan) Evaluation {
	comp := c.complianceLocked(view)
	_, busy := c.busy[evaluationKey]
	return Evaluation{
		Week:       c.window.Week() + 1,
		TotalWeeks: c.window.TotalWeeks(),
		IsLastWeek: c.window.IsLastWeek(),
		Compliance: comp,
		CanAdvance: comp.IsPassed && !busy,
		Busy:       busy,
	}
}

// AdvanceWeek moves past a passed week. On the last week the plan is extended
// first; the window then lands on the new week.
func (c *Calendar) AdvanceWeek(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	view := c.tracker.View()
	if view == nil {
		c.mu.Unlock()
		return mealplan.ErrNoPlan
	}
	if _, busy := c.busy[evaluationKey]; busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if !c.complianceLocked(view).IsPassed {
		c.mu.Unlock()
		return ErrNotPassed
	}
	if !c.window.IsLastWeek() {
		c.window.Next()
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.fetchPlan(ctx, evaluationKey, c.backend.ExtendPlan, keepWindow)
}

// ResetToWeekOne restarts the plan and shows its first week.
func (c *Calendar) ResetToWeekOne(ctx context.Context) error {
	return c.fetchPlan(ctx, evaluationKey, c.backend.ResetPlan, openOnFirstWeek)
}

// Close discards the calendar. Responses still in flight are dropped.
func (c *Calendar) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.gen++
}
