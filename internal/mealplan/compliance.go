package mealplan

import "math"

// PassThreshold is the minimum percentage for both scores to pass a week.
const PassThreshold = 80

// Exceeded describes a checked meal that went over its planned calories.
type Exceeded struct {
	Day      int      `json:"day"`
	MealType MealType `json:"mealType"`
	Excess   int      `json:"excess"`
}

// Compliance summarizes adherence over a week window.
type Compliance struct {
	MealCompliance    int        `json:"mealCompliance"`
	CalorieCompliance int        `json:"calorieCompliance"`
	CheckedMeals      int        `json:"checkedMeals"`
	TotalMeals        int        `json:"totalMeals"`
	TotalActual       int        `json:"totalActual"`
	TotalPlanned      int        `json:"totalPlanned"`
	Exceeded          []Exceeded `json:"exceededDetails"`
	IsCompleted       bool       `json:"isCompleted"`
	IsPassed          bool       `json:"isPassed"`
}

// ComputeCompliance derives the week's scores from the days and the confirmed set alone.
// Calorie compliance compares the week's summed actuals against the summed plan, so
// over- and under-eating across meals can offset each other.
func ComputeCompliance(days []DayPlan, confirmed MealSet) Compliance {
	c := Compliance{Exceeded: []Exceeded{}}
	for _, d := range days {
		c.TotalPlanned += d.TotalPlannedCalories
		for _, m := range d.Meals {
			if m.IsPlaceholder() {
				continue
			}
			c.TotalMeals++
			if !m.CheckedIn && !confirmed.Has(m.ID) {
				continue
			}
			c.CheckedMeals++
			actual := m.ActualCalories()
			c.TotalActual += actual
			if actual > m.PlannedCalories {
				c.Exceeded = append(c.Exceeded, Exceeded{
					Day:      d.Day,
					MealType: m.MealType,
					Excess:   actual - m.PlannedCalories,
				})
			}
		}
	}

	if c.TotalMeals > 0 {
		c.MealCompliance = int(math.Round(float64(c.CheckedMeals) / float64(c.TotalMeals) * 100))
	}
	if c.TotalPlanned > 0 {
		deviation := math.Abs(float64(c.TotalActual-c.TotalPlanned)) / float64(c.TotalPlanned) * 100
		c.CalorieCompliance = max(0, int(math.Round(100-deviation)))
	}
	c.IsCompleted = c.TotalMeals > 0 && c.CheckedMeals == c.TotalMeals
	c.IsPassed = c.MealCompliance >= PassThreshold && c.CalorieCompliance >= PassThreshold
	return c
}
