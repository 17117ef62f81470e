package mealplan

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialWindow(t *testing.T) {
	today := time.Date(2026, 10, 17, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		start     time.Time
		numDays   int
		wantWeek  int
		wantDay   int
		wantWeeks int
	}{
		{"today inside plan", today.AddDate(0, 0, -10), 21, 1, 3, 3},
		{"starts today", today, 28, 0, 0, 4},
		{"plan in the future", today.AddDate(0, 0, 5), 14, 0, 0, 2},
		{"plan fully elapsed", today.AddDate(0, 0, -30), 21, 2, 2, 3},
		{"short final week", today.AddDate(0, 0, -8), 10, 1, 1, 2},
		{"empty plan", today.AddDate(0, 0, -3), 0, 0, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := InitialWindow(NewDate(tt.start), today, tt.numDays)
			assert.Equal(t, tt.wantWeek, w.Week())
			assert.Equal(t, tt.wantDay, w.Day())
			assert.Equal(t, tt.wantWeeks, w.TotalWeeks())
		})
	}
}

func TestWindow_Navigation(t *testing.T) {
	w := InitialWindow(NewDate(time.Now()), time.Now(), 21)

	assert.False(t, w.Prev(), "prev at week 0 is a no-op")
	assert.Equal(t, 0, w.Week())

	assert.True(t, w.Next())
	assert.True(t, w.Next())
	assert.True(t, w.IsLastWeek())
	assert.False(t, w.Next(), "next at the last week is a no-op")
	assert.Equal(t, 2, w.Week())

	assert.True(t, w.Prev())
	assert.Equal(t, 1, w.Week())
}

func TestWindow_SelectDay(t *testing.T) {
	var w Window
	require.NoError(t, w.SelectDay(6))
	assert.Equal(t, 6, w.Day())
	assert.Error(t, w.SelectDay(7))
	assert.Error(t, w.SelectDay(-1))
	assert.Equal(t, 6, w.Day())
}

func TestWindow_ResizeAndSlice(t *testing.T) {
	days := newPlan(10).Days
	w := Window{totalWeeks: 2}
	w.Last()

	last := w.Slice(days)
	require.Len(t, last, 3)
	assert.Equal(t, 8, last[0].Day)

	w.Resize(1)
	assert.Equal(t, 0, w.Week())
	assert.Len(t, w.Slice(days), 7)

	w.Resize(0)
	assert.Nil(t, Window{week: 3}.Slice(days))
}

func TestMealPlan_JSON(t *testing.T) {
	payload := `{
		"startDate": "2026-10-07",
		"totalDays": 2,
		"mealPlan": [
			{"day": 1, "meals": [{"id": 5, "plannedMealId": 77, "mealName": "Eggs", "quantity": "2 eggs",
			  "calories": 180, "plannedCalories": 180, "mealType": "BREAKFAST", "checkedIn": true}],
			 "totalCalories": 180, "totalPlannedCalories": 180}
		],
		"monthlyPlan": {"phases": [{"name": "Adapt", "dailyCalories": 1800}]}
	}`

	var p MealPlan
	require.NoError(t, json.Unmarshal([]byte(payload), &p))

	assert.Equal(t, "2026-10-07", p.StartDate.String())
	assert.Equal(t, 1, p.TotalWeeks(), "weeks come from the day sequence, not totalDays")
	assert.Equal(t, MealBreakfast, p.Days[0].Meals[0].MealType)
	require.NotNil(t, p.Days[0].Meals[0].PlannedMealID)
	assert.Equal(t, int64(77), *p.Days[0].Meals[0].PlannedMealID)
	assert.Equal(t, time.Date(2026, 10, 8, 0, 0, 0, 0, time.UTC), p.DateOf(2))
	assert.Equal(t, 1800, p.MonthlyPlan.Phases[0].DailyCalories)
}

func TestDate_RFC3339(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2026-10-07T09:00:00+09:00"`), &d))
	assert.Equal(t, "2026-10-07", d.String())
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &d))
}

func TestParseMealType(t *testing.T) {
	mt, err := ParseMealType(" Dinner ")
	require.NoError(t, err)
	assert.Equal(t, MealDinner, mt)

	_, err = ParseMealType("brunch")
	assert.Error(t, err)
}
