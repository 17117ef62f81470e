package calendar

import (
	"time"

	"diet-coach/internal/mealplan"
)

// MealView is one meal as a surface shows it.
type MealView struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	Quantity        string            `json:"quantity,omitempty"`
	MealType        mealplan.MealType `json:"mealType"`
	Calories        int               `json:"calories"`
	PlannedCalories int               `json:"plannedCalories"`
	Checked         bool              `json:"checked"`
	Busy            bool              `json:"busy"`
}

// DayHeader labels one column of the week.
type DayHeader struct {
	Index    int       `json:"index"` // 0-6 within the week
	Day      int       `json:"day"`   // 1-based plan day
	Date     time.Time `json:"date"`
	IsToday  bool      `json:"isToday"`
	IsFuture bool      `json:"isFuture"`
}

// Cell groups the meals of one type on one day.
type Cell struct {
	Day        int        `json:"day"`
	Meals      []MealView `json:"meals"`
	AllChecked bool       `json:"allChecked"`
	Rest       bool       `json:"rest"`
	Disabled   bool       `json:"disabled"`
	Busy       bool       `json:"busy"`
}

// Row is one meal type across the week.
type Row struct {
	MealType mealplan.MealType `json:"mealType"`
	Cells    []Cell            `json:"cells"`
}

// DayTotal is the calorie roll-up of one day.
type DayTotal struct {
	Day             int `json:"day"`
	Calories        int `json:"calories"`
	PlannedCalories int `json:"plannedCalories"`
}

// Grid is the desktop surface: the full week with one row per meal type.
type Grid struct {
	Week       int                 `json:"week"` // 1-based
	TotalWeeks int                 `json:"totalWeeks"`
	HasPrev    bool                `json:"hasPrev"`
	HasNext    bool                `json:"hasNext"`
	Days       []DayHeader         `json:"days"`
	Rows       []Row               `json:"rows"`
	Totals     []DayTotal          `json:"totals"`
	Compliance mealplan.Compliance `json:"compliance"`
	Evaluation Evaluation          `json:"evaluation"`
}

// Section is one meal type on the mobile day view.
type Section struct {
	MealType   mealplan.MealType `json:"mealType"`
	Meals      []MealView        `json:"meals"`
	AllChecked bool              `json:"allChecked"`
	Rest       bool              `json:"rest"`
	Busy       bool              `json:"busy"`
}

// DayView is the mobile surface: one selected day plus a picker over the week.
type DayView struct {
	Week                 int                 `json:"week"`
	TotalWeeks           int                 `json:"totalWeeks"`
	HasPrev              bool                `json:"hasPrev"`
	HasNext              bool                `json:"hasNext"`
	Picker               []DayHeader         `json:"picker"`
	Selected             int                 `json:"selected"`
	Header               *DayHeader          `json:"header,omitempty"`
	Sections             []Section           `json:"sections"`
	TotalCalories        int                 `json:"totalCalories"`
	TotalPlannedCalories int                 `json:"totalPlannedCalories"`
	Compliance           mealplan.Compliance `json:"compliance"`
	Evaluation           Evaluation          `json:"evaluation"`
}

// snapshot is everything a surface needs, captured under one lock so the
// desktop and mobile renderings always agree.
type snapshot struct {
	days       []mealplan.DayPlan
	headers    []DayHeader
	checked    func(mealplan.Meal) bool
	busy       map[string]struct{}
	window     mealplan.Window
	compliance mealplan.Compliance
	evaluation Evaluation
}

func (c *Calendar) snapshot() snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	view := c.tracker.View()
	s := snapshot{
		window:     c.window,
		busy:       make(map[string]struct{}, len(c.busy)),
		compliance: c.complianceLocked(view),
		evaluation: c.evaluationLocked(view),
	}
	for k := range c.busy {
		s.busy[k] = struct{}{}
	}
	confirmed := c.tracker.Confirmed()
	s.checked = func(m mealplan.Meal) bool {
		return !m.IsPlaceholder() && (m.CheckedIn || confirmed.Has(m.ID))
	}
	if view == nil {
		return s
	}

	s.days = c.window.Slice(view.Days)
	today := c.today()
	for i, d := range s.days {
		date := view.DateOf(d.Day)
		diff := mealplan.DaysBetween(today, mealplan.NewDate(date))
		s.headers = append(s.headers, DayHeader{
			Index:    i,
			Day:      d.Day,
			Date:     date,
			IsToday:  diff == 0,
			IsFuture: diff > 0,
		})
	}
	return s
}

func (s snapshot) mealViews(meals []mealplan.Meal) ([]MealView, bool) {
	views := make([]MealView, 0, len(meals))
	allChecked := len(meals) > 0
	for _, m := range meals {
		checked := s.checked(m)
		_, busy := s.busy[mealKey(m.ID)]
		views = append(views, MealView{
			ID:              m.ID,
			Name:            m.MealName,
			Quantity:        m.Quantity,
			MealType:        m.MealType,
			Calories:        m.ActualCalories(),
			PlannedCalories: m.PlannedCalories,
			Checked:         checked,
			Busy:            busy,
		})
		allChecked = allChecked && checked
	}
	return views, allChecked
}

// Grid builds the desktop week grid.
func (c *Calendar) Grid() Grid {
	s := c.snapshot()
	g := Grid{
		Week:       s.window.Week() + 1,
		TotalWeeks: s.window.TotalWeeks(),
		HasPrev:    s.window.Week() > 0,
		HasNext:    !s.window.IsLastWeek(),
		Days:       s.headers,
		Compliance: s.compliance,
		Evaluation: s.evaluation,
	}
	for _, t := range mealplan.MealTypes {
		row := Row{MealType: t}
		for i, d := range s.days {
			meals, allChecked := s.mealViews(d.MealsOfType(t))
			_, busy := s.busy[BatchKey(d.Day, t)]
			row.Cells = append(row.Cells, Cell{
				Day:        d.Day,
				Meals:      meals,
				AllChecked: allChecked,
				Rest:       len(meals) == 0,
				Disabled:   s.headers[i].IsFuture,
				Busy:       busy,
			})
		}
		g.Rows = append(g.Rows, row)
	}
	for _, d := range s.days {
		g.Totals = append(g.Totals, DayTotal{Day: d.Day, Calories: d.TotalCalories, PlannedCalories: d.TotalPlannedCalories})
	}
	return g
}

// Day builds the mobile view of the selected day. On a short final week the
// selection is clamped to the last existing day.
func (c *Calendar) Day() DayView {
	s := c.snapshot()
	v := DayView{
		Week:       s.window.Week() + 1,
		TotalWeeks: s.window.TotalWeeks(),
		HasPrev:    s.window.Week() > 0,
		HasNext:    !s.window.IsLastWeek(),
		Picker:     s.headers,
		Compliance: s.compliance,
		Evaluation: s.evaluation,
	}
	if len(s.days) == 0 {
		return v
	}
	v.Selected = min(s.window.Day(), len(s.days)-1)
	header := s.headers[v.Selected]
	v.Header = &header

	d := s.days[v.Selected]
	v.TotalCalories = d.TotalCalories
	v.TotalPlannedCalories = d.TotalPlannedCalories
	for _, t := range mealplan.MealTypes {
		meals, allChecked := s.mealViews(d.MealsOfType(t))
		_, busy := s.busy[BatchKey(d.Day, t)]
		v.Sections = append(v.Sections, Section{
			MealType:   t,
			Meals:      meals,
			AllChecked: allChecked,
			Rest:       len(meals) == 0,
			Busy:       busy,
		})
	}
	return v
}
