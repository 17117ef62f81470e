package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"diet-coach/internal/calendar"
	"diet-coach/internal/coach"
	"diet-coach/internal/logging"
	"diet-coach/internal/mealplan"
	"diet-coach/internal/metrics"
	"diet-coach/internal/web"

	"go.uber.org/zap"
)

// App runs the command-line operations for one user.
type App struct {
	cal          *calendar.Calendar
	metricsStore *metrics.Store
	jwtService   *web.JWTService
	out          io.Writer
	logger       *zap.Logger
}

// NewApp creates and initializes a new App instance. metricsStore and
// jwtService may be nil when the matching commands are not used.
func NewApp(
	cal *calendar.Calendar,
	metricsStore *metrics.Store,
	jwtService *web.JWTService,
	out io.Writer,
	logger *zap.Logger,
) *App {
	return &App{
		cal:          cal,
		metricsStore: metricsStore,
		jwtService:   jwtService,
		out:          out,
		logger:       logging.OrNop(logger),
	}
}

func (a *App) load(ctx context.Context) error {
	if err := a.cal.EnsureLoaded(ctx); err != nil {
		if coach.IsNotFound(err) {
			return fmt.Errorf("no meal plan yet, run generate first: %w", err)
		}
		return fmt.Errorf("failed to load meal plan: %w", err)
	}
	return nil
}

// Week prints the week grid. offset moves that many weeks away from today's week.
func (a *App) Week(ctx context.Context, offset int) error {
	if err := a.load(ctx); err != nil {
		return err
	}
	a.move(offset)
	return calendar.RenderGrid(a.out, a.cal.Grid())
}

// move stops at the first or last week.
func (a *App) move(offset int) {
	step := a.cal.Next
	if offset < 0 {
		step, offset = a.cal.Prev, -offset
	}
	for i := 0; i < offset && step(); i++ {
	}
}

// Day prints one day of today's week. A negative index keeps today.
func (a *App) Day(ctx context.Context, index int) error {
	if err := a.load(ctx); err != nil {
		return err
	}
	if index >= 0 {
		if err := a.cal.SelectDay(index); err != nil {
			return err
		}
	}
	return renderDay(a.out, a.cal.Day())
}

func renderDay(w io.Writer, v calendar.DayView) error {
	if v.Header == nil {
		_, err := fmt.Fprintln(w, "No meals planned for this day.")
		return err
	}
	h := v.Header
	fmt.Fprintf(w, "=== Week %d of %d · Day %d · %s ===\n", v.Week, v.TotalWeeks, h.Day, h.Date.Format("Mon Jan 2"))
	for _, s := range v.Sections {
		if s.Rest {
			fmt.Fprintf(w, "%-10s rest\n", s.MealType.Label())
			continue
		}
		for i, m := range s.Meals {
			label := ""
			if i == 0 {
				label = s.MealType.Label()
			}
			mark := "[ ]"
			if m.Checked {
				mark = "[x]"
			}
			fmt.Fprintf(w, "%-10s %s #%d %s · %d kcal\n", label, mark, m.ID, m.Name, m.Calories)
		}
	}
	_, err := fmt.Fprintf(w, "Total: %d / %d kcal\n", v.TotalCalories, v.TotalPlannedCalories)
	return err
}

// CheckIn confirms one meal and prints its day.
func (a *App) CheckIn(ctx context.Context, mealID int64) error {
	if err := a.load(ctx); err != nil {
		return err
	}
	if err := a.cal.CheckIn(ctx, mealID); err != nil {
		return fmt.Errorf("failed to check in meal %d: %w", mealID, err)
	}
	fmt.Fprintf(a.out, "Checked in meal %d.\n", mealID)
	return nil
}

// MarkAllDone checks in every unchecked meal of one type on one plan day.
func (a *App) MarkAllDone(ctx context.Context, day int, mealType mealplan.MealType) error {
	if err := a.load(ctx); err != nil {
		return err
	}
	outcomes, err := a.cal.MarkAllDone(ctx, day, mealType)
	if err != nil {
		return err
	}
	var failed []error
	for _, o := range outcomes {
		if o.OK() {
			fmt.Fprintf(a.out, "✓ %s\n", o.MealName)
			continue
		}
		fmt.Fprintf(a.out, "✗ %s: %s\n", o.MealName, coach.UserMessage(o.Err))
		failed = append(failed, o.Err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d check-ins failed: %w", len(failed), len(outcomes), errors.Join(failed...))
	}
	return nil
}

// EvaluateAction is what Evaluate does after printing the score.
type EvaluateAction int

const (
	EvaluateOnly EvaluateAction = iota
	EvaluateAdvance
	EvaluateReset
)

// Evaluate prints today's week score and optionally advances or resets.
func (a *App) Evaluate(ctx context.Context, action EvaluateAction) error {
	if err := a.load(ctx); err != nil {
		return err
	}
	e := a.cal.Evaluation()
	fmt.Fprintf(a.out, "Week %d of %d\n", e.Week, e.TotalWeeks)
	if err := calendar.RenderCompliance(a.out, e); err != nil {
		return err
	}

	switch action {
	case EvaluateAdvance:
		if !e.CanAdvance {
			return calendar.ErrNotPassed
		}
		if err := a.cal.AdvanceWeek(ctx); err != nil {
			return fmt.Errorf("failed to advance: %w", err)
		}
		next := a.cal.Evaluation()
		fmt.Fprintf(a.out, "Moved to week %d of %d.\n", next.Week, next.TotalWeeks)
	case EvaluateReset:
		if err := a.cal.ResetToWeekOne(ctx); err != nil {
			return fmt.Errorf("failed to reset: %w", err)
		}
		fmt.Fprintln(a.out, "Plan restarted from week 1.")
	}
	return nil
}

// Generate creates a plan, or replaces the current one when regenerate is set.
func (a *App) Generate(ctx context.Context, regenerate bool) error {
	var err error
	if regenerate {
		err = a.cal.Regenerate(ctx)
	} else {
		err = a.cal.Generate(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to generate plan: %w", err)
	}
	return calendar.RenderGrid(a.out, a.cal.Grid())
}

// CleanupMetrics removes backend call records older than days.
func (a *App) CleanupMetrics(ctx context.Context, days int) error {
	if a.metricsStore == nil {
		return errors.New("metrics store not configured")
	}
	affected, err := a.metricsStore.Cleanup(ctx, days)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	a.logger.Info("metrics cleanup", zap.Int("days", days), zap.Int64("removed", affected))
	fmt.Fprintf(a.out, "Successfully removed %d old metric records.\n", affected)
	return nil
}

// IssueToken prints a bearer token for the web API.
func (a *App) IssueToken(userID string, ttl time.Duration) error {
	if a.jwtService == nil {
		return errors.New("WEB_JWT_SECRET not configured")
	}
	token, err := a.jwtService.GenerateToken(userID, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Fprintln(a.out, token)
	return nil
}
