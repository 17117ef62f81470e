package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"diet-coach/internal/calendar"
	"diet-coach/internal/coach"
	"diet-coach/internal/database"
	"diet-coach/internal/mealplan"
	"diet-coach/internal/metrics"
	"diet-coach/internal/web"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

func buildPlan(daysAgo, n int) *mealplan.MealPlan {
	p := &mealplan.MealPlan{StartDate: mealplan.NewDate(today.AddDate(0, 0, -daysAgo)), TotalDays: n}
	for day := 1; day <= n; day++ {
		d := mealplan.DayPlan{
			Day: day,
			Meals: []mealplan.Meal{
				{ID: int64(day*10 + 1), MealName: "Oats", MealType: mealplan.MealBreakfast, Calories: 400, PlannedCalories: 400},
				{ID: int64(day*10 + 2), MealName: "Salad", MealType: mealplan.MealLunch, Calories: 600, PlannedCalories: 600},
			},
		}
		d.Recompute()
		p.Days = append(p.Days, d)
	}
	return p
}

type fakeBackend struct {
	plan     *mealplan.MealPlan
	failMeal int64
	checked  []int64
}

func (f *fakeBackend) CurrentPlan(context.Context) (*mealplan.MealPlan, error) {
	if f.plan == nil {
		return nil, &coach.APIError{Status: http.StatusNotFound, Message: "No meal plan found"}
	}
	return f.plan, nil
}

func (f *fakeBackend) GeneratePlan(context.Context) (*mealplan.MealPlan, error) {
	f.plan = buildPlan(3, 7)
	return f.plan, nil
}

func (f *fakeBackend) RegeneratePlan(ctx context.Context) (*mealplan.MealPlan, error) {
	return f.GeneratePlan(ctx)
}

func (f *fakeBackend) ExtendPlan(context.Context) (*mealplan.MealPlan, error) {
	return nil, errors.New("not used")
}

func (f *fakeBackend) ResetPlan(ctx context.Context) (*mealplan.MealPlan, error) {
	return f.CurrentPlan(ctx)
}

func (f *fakeBackend) CheckIn(_ context.Context, id int64) error {
	if id == f.failMeal {
		return &coach.APIError{Status: http.StatusBadRequest, Message: "Meal already checked in"}
	}
	f.checked = append(f.checked, id)
	return nil
}

func newApp(t *testing.T, backend *fakeBackend) (*App, *bytes.Buffer) {
	t.Helper()
	cal := calendar.New("42", backend, calendar.Options{Location: time.UTC, Now: func() time.Time { return today }})
	t.Cleanup(cal.Close)
	var out bytes.Buffer
	return NewApp(cal, nil, nil, &out, nil), &out
}

func TestApp_Week(t *testing.T) {
	a, out := newApp(t, &fakeBackend{plan: buildPlan(10, 14)})

	require.NoError(t, a.Week(t.Context(), 0))
	assert.Contains(t, out.String(), "Week 2 of 2")
	assert.Contains(t, out.String(), "Oats (400)")

	out.Reset()
	require.NoError(t, a.Week(t.Context(), -5))
	assert.Contains(t, out.String(), "Week 1 of 2", "stops at the first week")
}

func TestApp_NoPlan(t *testing.T) {
	a, out := newApp(t, &fakeBackend{})

	err := a.Week(t.Context(), 0)
	require.Error(t, err)
	assert.True(t, coach.IsNotFound(err))
	assert.Contains(t, err.Error(), "run generate first")

	require.NoError(t, a.Generate(t.Context(), false))
	assert.Contains(t, out.String(), "Week 1 of 1")
}

func TestApp_DayAndCheckIn(t *testing.T) {
	backend := &fakeBackend{plan: buildPlan(10, 14)}
	a, out := newApp(t, backend)

	require.NoError(t, a.CheckIn(t.Context(), 111))
	assert.Equal(t, []int64{111}, backend.checked)

	out.Reset()
	require.NoError(t, a.Day(t.Context(), -1))
	assert.Contains(t, out.String(), "Day 11")
	assert.Contains(t, out.String(), "[x] #111 Oats · 400 kcal")
	assert.Contains(t, out.String(), "[ ] #112 Salad · 600 kcal")

	out.Reset()
	require.NoError(t, a.Day(t.Context(), 0))
	assert.Contains(t, out.String(), "Day 8")

	assert.ErrorIs(t, a.CheckIn(t.Context(), 121), calendar.ErrFutureDay)
	assert.Error(t, a.Day(t.Context(), 9))
}

func TestApp_MarkAllDone(t *testing.T) {
	backend := &fakeBackend{plan: buildPlan(10, 14), failMeal: 92}
	a, out := newApp(t, backend)

	require.NoError(t, a.MarkAllDone(t.Context(), 9, mealplan.MealBreakfast))
	assert.Contains(t, out.String(), "✓ Oats")

	err := a.MarkAllDone(t.Context(), 9, mealplan.MealLunch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 check-ins failed")
	assert.Contains(t, out.String(), "✗ Salad: Meal already checked in")
}

func TestApp_Evaluate(t *testing.T) {
	backend := &fakeBackend{plan: buildPlan(6, 7)}
	a, out := newApp(t, backend)

	assert.ErrorIs(t, a.Evaluate(t.Context(), EvaluateAdvance), calendar.ErrNotPassed)
	assert.Contains(t, out.String(), "Meals 0% (0/14)")

	for day := 1; day <= 7; day++ {
		require.NoError(t, a.MarkAllDone(t.Context(), day, mealplan.MealBreakfast))
		require.NoError(t, a.MarkAllDone(t.Context(), day, mealplan.MealLunch))
	}

	out.Reset()
	require.NoError(t, a.Evaluate(t.Context(), EvaluateOnly))
	assert.Contains(t, out.String(), "Meals 100% (14/14)")
	assert.NotContains(t, out.String(), "not passed")

	require.NoError(t, a.Evaluate(t.Context(), EvaluateReset))
	assert.Contains(t, out.String(), "Plan restarted from week 1.")
}

func TestApp_CleanupMetrics(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "metrics.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	store := metrics.NewStore(db.SQL, nil)
	require.NoError(t, store.Record(t.Context(), metrics.BackendCall{
		Endpoint: "GET /meal-plans/current", Status: 200, Timestamp: time.Now().AddDate(0, 0, -40),
	}))
	require.NoError(t, store.Record(t.Context(), metrics.BackendCall{
		Endpoint: "GET /meal-plans/current", Status: 200, Timestamp: time.Now(),
	}))

	var out bytes.Buffer
	a := NewApp(nil, store, nil, &out, nil)
	require.NoError(t, a.CleanupMetrics(t.Context(), 30))
	assert.Equal(t, "Successfully removed 1 old metric records.\n", out.String())

	assert.Error(t, NewApp(nil, nil, nil, &out, nil).CleanupMetrics(t.Context(), 30))
}

func TestApp_IssueToken(t *testing.T) {
	jwtService := web.NewJWTService("secret", "diet-coach")
	var out bytes.Buffer
	a := NewApp(nil, nil, jwtService, &out, nil)

	require.NoError(t, a.IssueToken("42", time.Hour))
	claims, err := jwtService.ValidateToken(string(bytes.TrimSpace(out.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)

	assert.Error(t, NewApp(nil, nil, nil, &out, nil).IssueToken("42", time.Hour))
}
