package mealplan

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func meal(id int64, t MealType, planned, actual int, checked bool) Meal {
	return Meal{ID: id, MealName: "meal", MealType: t, PlannedCalories: planned, Calories: actual, CheckedIn: checked}
}

func TestComputeCompliance(t *testing.T) {
	t.Run("one of two meals checked and over plan", func(t *testing.T) {
		days := []DayPlan{{
			Day: 1,
			Meals: []Meal{
				meal(1, MealBreakfast, 500, 600, true),
				meal(2, MealLunch, 0, 0, false),
			},
			TotalPlannedCalories: 500,
		}}

		got := ComputeCompliance(days, MealSet{})

		want := Compliance{
			MealCompliance:    50,
			CalorieCompliance: 80,
			CheckedMeals:      1,
			TotalMeals:        2,
			TotalActual:       600,
			TotalPlanned:      500,
			Exceeded:          []Exceeded{{Day: 1, MealType: MealBreakfast, Excess: 100}},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("ComputeCompliance() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Confirmed set counts as checked", func(t *testing.T) {
		days := []DayPlan{{
			Day:                  1,
			Meals:                []Meal{meal(1, MealBreakfast, 400, 400, false)},
			TotalPlannedCalories: 400,
		}}

		got := ComputeCompliance(days, MealSet{1: {}})

		assert.Equal(t, 100, got.MealCompliance)
		assert.Equal(t, 100, got.CalorieCompliance)
		assert.True(t, got.IsCompleted)
		assert.True(t, got.IsPassed)
	})

	t.Run("Zero actual falls back to planned", func(t *testing.T) {
		days := []DayPlan{{
			Day:                  2,
			Meals:                []Meal{meal(1, MealDinner, 700, 0, true)},
			TotalPlannedCalories: 700,
		}}

		got := ComputeCompliance(days, nil)

		assert.Equal(t, 700, got.TotalActual)
		assert.Empty(t, got.Exceeded)
	})

	t.Run("Placeholder meals are ignored", func(t *testing.T) {
		days := []DayPlan{{
			Day: 1,
			Meals: []Meal{
				meal(NoMealID, MealSnack, 0, 0, false),
				meal(3, MealLunch, 300, 300, true),
			},
			TotalPlannedCalories: 300,
		}}

		got := ComputeCompliance(days, MealSet{NoMealID: {}})

		assert.Equal(t, 1, got.TotalMeals)
		assert.Equal(t, 1, got.CheckedMeals)
		assert.True(t, got.IsCompleted)
	})

	t.Run("Zero planned total yields zero calorie compliance", func(t *testing.T) {
		days := []DayPlan{{Day: 1, Meals: []Meal{meal(1, MealLunch, 0, 250, true)}}}

		got := ComputeCompliance(days, nil)

		assert.Equal(t, 0, got.CalorieCompliance)
		assert.False(t, got.IsPassed)
	})

	t.Run("Large deviation clamps at zero", func(t *testing.T) {
		days := []DayPlan{{
			Day:                  1,
			Meals:                []Meal{meal(1, MealLunch, 100, 500, true)},
			TotalPlannedCalories: 100,
		}}

		assert.Equal(t, 0, ComputeCompliance(days, nil).CalorieCompliance)
	})

	t.Run("No exceeded meals when actuals stay within plan", func(t *testing.T) {
		days := []DayPlan{{
			Day: 1,
			Meals: []Meal{
				meal(1, MealBreakfast, 400, 350, true),
				meal(2, MealLunch, 600, 600, true),
			},
			TotalPlannedCalories: 1000,
		}}

		assert.Empty(t, ComputeCompliance(days, nil).Exceeded)
	})

	t.Run("Empty week", func(t *testing.T) {
		got := ComputeCompliance(nil, nil)

		assert.Equal(t, 0, got.MealCompliance)
		assert.False(t, got.IsCompleted)
		assert.NotNil(t, got.Exceeded)
	})
}

func TestComputeCompliance_PassGate(t *testing.T) {
	week := func(plannedTotal int) []DayPlan {
		return []DayPlan{{
			Day: 1,
			Meals: []Meal{
				meal(1, MealBreakfast, 100, 100, true),
				meal(2, MealLunch, 100, 100, true),
				meal(3, MealDinner, 100, 100, true),
				meal(4, MealSnack, 100, 100, true),
				meal(5, MealSnack, 100, 100, false),
			},
			TotalPlannedCalories: plannedTotal,
		}}
	}

	t.Run("80/80 passes", func(t *testing.T) {
		got := ComputeCompliance(week(500), nil)
		assert.Equal(t, 80, got.MealCompliance)
		assert.Equal(t, 80, got.CalorieCompliance)
		assert.True(t, got.IsPassed)
	})

	t.Run("80/79 does not pass", func(t *testing.T) {
		got := ComputeCompliance(week(506), nil)
		assert.Equal(t, 80, got.MealCompliance)
		assert.Equal(t, 79, got.CalorieCompliance)
		assert.False(t, got.IsPassed)
	})
}

func TestComputeCompliance_Deterministic(t *testing.T) {
	days := []DayPlan{{
		Day:                  1,
		Meals:                []Meal{meal(1, MealBreakfast, 300, 420, false), meal(2, MealLunch, 500, 0, false)},
		TotalPlannedCalories: 800,
	}}
	confirmed := MealSet{1: {}}

	first := ComputeCompliance(days, confirmed)
	second := ComputeCompliance(days, confirmed)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated ComputeCompliance() differs (-first +second):\n%s", diff)
	}
}
