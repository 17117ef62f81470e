package mealplan

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MealType tags when in the day a meal is eaten.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// MealTypes lists the meal types in display order.
var MealTypes = []MealType{MealBreakfast, MealLunch, MealDinner, MealSnack}

// NoMealID marks a placeholder slot with nothing scheduled.
const NoMealID int64 = -1

// ParseMealType accepts the backend spelling in any case.
func ParseMealType(s string) (MealType, error) {
	switch t := MealType(strings.ToLower(strings.TrimSpace(s))); t {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
		return t, nil
	}
	return "", fmt.Errorf("unknown meal type %q", s)
}

// UnmarshalJSON normalizes the backend's casing.
func (t *MealType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseMealType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON writes the backend spelling.
func (t MealType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Wire())
}

// Wire returns the upper-case form the backend expects in queries and forms.
func (t MealType) Wire() string {
	return strings.ToUpper(string(t))
}

// Label returns the human name of the meal type.
func (t MealType) Label() string {
	switch t {
	case MealBreakfast:
		return "Breakfast"
	case MealLunch:
		return "Lunch"
	case MealDinner:
		return "Dinner"
	case MealSnack:
		return "Snack"
	}
	return string(t)
}

// Meal is one planned eating event.
type Meal struct {
	ID              int64    `json:"id"`
	PlannedMealID   *int64   `json:"plannedMealId,omitempty"`
	MealName        string   `json:"mealName"`
	Quantity        string   `json:"quantity"`
	Calories        int      `json:"calories"`
	PlannedCalories int      `json:"plannedCalories"`
	MealType        MealType `json:"mealType"`
	CheckedIn       bool     `json:"checkedIn"`
}

// IsPlaceholder reports whether the slot has no meal scheduled.
func (m Meal) IsPlaceholder() bool {
	return m.ID == NoMealID
}

// ActualCalories falls back to the planned value while no actual value is known.
func (m Meal) ActualCalories() int {
	if m.Calories != 0 {
		return m.Calories
	}
	return m.PlannedCalories
}

// DayPlan represents the plan for a single day.
type DayPlan struct {
	Day                  int    `json:"day"`
	Meals                []Meal `json:"meals"`
	TotalCalories        int    `json:"totalCalories"`
	TotalPlannedCalories int    `json:"totalPlannedCalories"`
}

// Recompute refreshes both roll-up totals from the meals.
func (d *DayPlan) Recompute() {
	d.TotalCalories = 0
	d.TotalPlannedCalories = 0
	for _, m := range d.Meals {
		d.TotalCalories += m.Calories
		d.TotalPlannedCalories += m.PlannedCalories
	}
}

// MealsOfType returns the scheduled meals of type t, skipping placeholders.
func (d DayPlan) MealsOfType(t MealType) []Meal {
	var out []Meal
	for _, m := range d.Meals {
		if m.MealType == t && !m.IsPlaceholder() {
			out = append(out, m)
		}
	}
	return out
}

// Phase is one named stage of the monthly plan.
type Phase struct {
	Name          string `json:"name"`
	DailyCalories int    `json:"dailyCalories"`
	Description   string `json:"description,omitempty"`
}

// MonthlyPlan carries the macro narrative; it never feeds per-meal math.
type MonthlyPlan struct {
	Phases []Phase `json:"phases"`
}

// MealPlan represents the full plan as delivered by the backend.
type MealPlan struct {
	StartDate   Date         `json:"startDate"`
	TotalDays   int          `json:"totalDays"`
	Days        []DayPlan    `json:"mealPlan"`
	MonthlyPlan *MonthlyPlan `json:"monthlyPlan,omitempty"`
}

// TotalWeeks is derived from the actual day sequence, never from TotalDays.
func (p *MealPlan) TotalWeeks() int {
	if p == nil {
		return 0
	}
	return (len(p.Days) + DaysPerWeek - 1) / DaysPerWeek
}

// DateOf returns the calendar date of a 1-based day index.
func (p *MealPlan) DateOf(day int) time.Time {
	return p.StartDate.Time().AddDate(0, 0, day-1)
}

// FindMeal locates a meal by id and returns its day and meal positions.
func (p *MealPlan) FindMeal(id int64) (dayPos, mealPos int, ok bool) {
	if p == nil || id == NoMealID {
		return 0, 0, false
	}
	for i, d := range p.Days {
		for j, m := range d.Meals {
			if m.ID == id {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// DayByIndex returns the position of the day with the given 1-based index.
func (p *MealPlan) DayByIndex(day int) (int, bool) {
	if p == nil {
		return 0, false
	}
	for i, d := range p.Days {
		if d.Day == day {
			return i, true
		}
	}
	return 0, false
}

// Clone returns a deep copy so callers can never reach the authoritative plan.
func (p *MealPlan) Clone() *MealPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.Days = make([]DayPlan, len(p.Days))
	for i, d := range p.Days {
		d.Meals = append([]Meal(nil), d.Meals...)
		out.Days[i] = d
	}
	if p.MonthlyPlan != nil {
		mp := MonthlyPlan{Phases: append([]Phase(nil), p.MonthlyPlan.Phases...)}
		out.MonthlyPlan = &mp
	}
	return &out
}

// Date is a calendar day without a time of day.
type Date struct {
	t time.Time
}

// NewDate truncates t to its calendar day in t's location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time { return d.t }

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) String() string { return d.t.Format(time.DateOnly) }

// MarshalJSON writes YYYY-MM-DD.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts YYYY-MM-DD or an RFC 3339 timestamp.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		*d = NewDate(t)
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*d = NewDate(t)
	return nil
}
