package mealplan

import (
	"fmt"
	"time"
)

// DaysPerWeek is the width of a week window.
const DaysPerWeek = 7

// Window is the 7-day slice of the plan currently on screen.
type Window struct {
	week       int
	day        int
	totalWeeks int
}

// InitialWindow opens the plan on today when today falls inside it, otherwise on the
// nearest boundary: the first week for a future plan, the last week for an elapsed one.
func InitialWindow(start Date, today time.Time, numDays int) Window {
	diff := DaysBetween(start, NewDate(today))
	if diff < 0 {
		diff = 0
	}
	w := Window{totalWeeks: weeksFor(numDays)}
	w.week = clamp(diff/DaysPerWeek, 0, w.lastWeek())
	w.day = clamp(diff%DaysPerWeek, 0, DaysPerWeek-1)
	return w
}

// DaysBetween counts whole calendar days from a to b.
func DaysBetween(a, b Date) int {
	return int(b.Time().Sub(a.Time()).Hours() / 24)
}

func weeksFor(numDays int) int {
	return (numDays + DaysPerWeek - 1) / DaysPerWeek
}

func (w Window) lastWeek() int {
	if w.totalWeeks == 0 {
		return 0
	}
	return w.totalWeeks - 1
}

// Week is the 0-based week offset.
func (w Window) Week() int { return w.week }

// Day is the selected 0-based day within the week.
func (w Window) Day() int { return w.day }

// TotalWeeks is the number of week windows over the plan.
func (w Window) TotalWeeks() int { return w.totalWeeks }

// IsLastWeek reports whether the window sits on the final week.
func (w Window) IsLastWeek() bool { return w.week == w.lastWeek() }

// Next moves one week forward; it is a no-op on the last week.
func (w *Window) Next() bool {
	if w.week >= w.lastWeek() {
		return false
	}
	w.week++
	return true
}

// Prev moves one week back; it is a no-op on week 0.
func (w *Window) Prev() bool {
	if w.week <= 0 {
		return false
	}
	w.week--
	return true
}

// Last jumps to the final week.
func (w *Window) Last() {
	w.week = w.lastWeek()
}

// First jumps to week 0, day 0.
func (w *Window) First() {
	w.week = 0
	w.day = 0
}

// SelectDay picks a day of the current week.
func (w *Window) SelectDay(day int) error {
	if day < 0 || day >= DaysPerWeek {
		return fmt.Errorf("day %d out of range 0-%d", day, DaysPerWeek-1)
	}
	w.day = day
	return nil
}

// Resize re-clamps the window after the plan length changed.
func (w *Window) Resize(totalWeeks int) {
	w.totalWeeks = totalWeeks
	w.week = clamp(w.week, 0, w.lastWeek())
}

// Slice returns the window's days; the final week may be short.
func (w Window) Slice(days []DayPlan) []DayPlan {
	start := w.week * DaysPerWeek
	if start >= len(days) {
		return nil
	}
	end := min(start+DaysPerWeek, len(days))
	return days[start:end]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
