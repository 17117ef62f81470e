package mealplan

import (
	"errors"
	"fmt"
)

var (
	ErrNoPlan       = errors.New("no meal plan loaded")
	ErrDayNotFound  = errors.New("day not found in plan")
	ErrMealNotFound = errors.New("meal not found in plan")
)

// MealSet is a set of meal ids.
type MealSet map[int64]struct{}

// Has reports membership.
func (s MealSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

type swapOverride struct {
	name     string
	calories int
}

// Tracker holds the latest fetched plan plus the local deltas applied on top of it.
// The fetched plan is never mutated; View merges the deltas at read time.
type Tracker struct {
	plan      *MealPlan
	confirmed MealSet
	swaps     map[int64]swapOverride
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		confirmed: MealSet{},
		swaps:     make(map[int64]swapOverride),
	}
}

// Loaded reports whether a plan has been set.
func (t *Tracker) Loaded() bool {
	return t.plan != nil
}

// ReplacePlan swaps in a freshly fetched plan. The confirmed set is re-derived from
// the new plan's flags and pending swaps are dropped. It reports whether the new plan
// has strictly more weeks than the one it replaces.
func (t *Tracker) ReplacePlan(p *MealPlan) (extended bool) {
	prevWeeks := t.plan.TotalWeeks()
	hadPlan := t.plan != nil

	t.plan = p.Clone()
	t.confirmed = MealSet{}
	t.swaps = make(map[int64]swapOverride)
	if t.plan != nil {
		for _, d := range t.plan.Days {
			for _, m := range d.Meals {
				if m.CheckedIn && !m.IsPlaceholder() {
					t.confirmed[m.ID] = struct{}{}
				}
			}
		}
	}
	return hadPlan && t.plan.TotalWeeks() > prevWeeks
}

// ApplyCheckIn marks a meal as eaten. Calling it twice is a no-op.
func (t *Tracker) ApplyCheckIn(mealID int64) error {
	if t.plan == nil {
		return ErrNoPlan
	}
	if _, _, ok := t.plan.FindMeal(mealID); !ok {
		return fmt.Errorf("check-in meal %d: %w", mealID, ErrMealNotFound)
	}
	t.confirmed[mealID] = struct{}{}
	return nil
}

// ApplySwap replaces a meal's name and calories and marks it confirmed.
func (t *Tracker) ApplySwap(day int, mealID int64, name string, calories int) error {
	if t.plan == nil {
		return ErrNoPlan
	}
	pos, ok := t.plan.DayByIndex(day)
	if !ok {
		return fmt.Errorf("swap day %d: %w", day, ErrDayNotFound)
	}
	found := false
	for _, m := range t.plan.Days[pos].Meals {
		if m.ID == mealID && !m.IsPlaceholder() {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("swap meal %d on day %d: %w", mealID, day, ErrMealNotFound)
	}
	t.swaps[mealID] = swapOverride{name: name, calories: calories}
	t.confirmed[mealID] = struct{}{}
	return nil
}

// IsChecked reports whether a meal counts as eaten in the merged view.
func (t *Tracker) IsChecked(m Meal) bool {
	if m.IsPlaceholder() {
		return false
	}
	return m.CheckedIn || t.confirmed.Has(m.ID)
}

// Confirmed returns a copy of the confirmed-meal set.
func (t *Tracker) Confirmed() MealSet {
	out := make(MealSet, len(t.confirmed))
	for id := range t.confirmed {
		out[id] = struct{}{}
	}
	return out
}

// Plan returns a copy of the last fetched plan, without local deltas.
func (t *Tracker) Plan() *MealPlan {
	return t.plan.Clone()
}

// View returns the merged plan: swaps applied, swapped days' actual totals recomputed.
// Check-in flags are left as fetched; use IsChecked or the confirmed set for those.
func (t *Tracker) View() *MealPlan {
	view := t.plan.Clone()
	if view == nil || len(t.swaps) == 0 {
		return view
	}
	for i := range view.Days {
		d := &view.Days[i]
		touched := false
		for j := range d.Meals {
			if o, ok := t.swaps[d.Meals[j].ID]; ok {
				d.Meals[j].MealName = o.name
				d.Meals[j].Calories = o.calories
				touched = true
			}
		}
		if touched {
			d.TotalCalories = 0
			for _, m := range d.Meals {
				d.TotalCalories += m.Calories
			}
		}
	}
	return view
}
