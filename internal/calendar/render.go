package calendar

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("8"))
	todayStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("12"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	exceedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

const (
	checkMark   = "✓"
	pendingMark = "·"
	restLabel   = "rest"
	dateLayout  = "Mon 01/02"
)

// RenderGrid prints the desktop week grid as a terminal table.
func RenderGrid(w io.Writer, g Grid) error {
	if len(g.Days) == 0 {
		_, err := fmt.Fprintln(w, "No meal plan yet.")
		return err
	}

	headers := []string{"Meal"}
	for _, d := range g.Days {
		label := d.Date.Format(dateLayout)
		if d.IsToday {
			label += " *"
		}
		headers = append(headers, label)
	}

	rows := make([][]string, 0, len(g.Rows)+1)
	for _, r := range g.Rows {
		row := []string{r.MealType.Label()}
		for _, cell := range r.Cells {
			row = append(row, cellText(cell))
		}
		rows = append(rows, row)
	}
	totals := []string{"Total"}
	for _, t := range g.Totals {
		totals = append(totals, fmt.Sprintf("%d / %d kcal", t.Calories, t.PlannedCalories))
	}
	rows = append(rows, totals)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				if col > 0 && g.Days[col-1].IsToday {
					return todayStyle
				}
				return headerStyle
			case col > 0 && g.Days[col-1].IsFuture:
				return mutedStyle
			}
			return cellStyle
		})

	title := titleStyle.Render(fmt.Sprintf("Week %d of %d", g.Week, g.TotalWeeks))
	if _, err := fmt.Fprintln(w, title); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	return RenderCompliance(w, g.Evaluation)
}

func cellText(c Cell) string {
	if c.Rest {
		return restLabel
	}
	lines := make([]string, 0, len(c.Meals))
	for _, m := range c.Meals {
		mark := pendingMark
		if m.Checked {
			mark = checkMark
		}
		lines = append(lines, fmt.Sprintf("%s %s (%d)", mark, m.Name, m.Calories))
	}
	return strings.Join(lines, "\n")
}

// RenderCompliance prints the week's scores and the evaluation gate.
func RenderCompliance(w io.Writer, e Evaluation) error {
	c := e.Compliance
	verdict := failStyle.Render("not passed")
	if c.IsPassed {
		verdict = passStyle.Render("passed")
	}
	_, err := fmt.Fprintf(w, "Meals %d%% (%d/%d)  Calories %d%% (%d/%d kcal)  %s\n",
		c.MealCompliance, c.CheckedMeals, c.TotalMeals,
		c.CalorieCompliance, c.TotalActual, c.TotalPlanned, verdict)
	if err != nil {
		return err
	}
	for _, x := range c.Exceeded {
		line := exceedStyle.Render(fmt.Sprintf("  day %d %s: +%d kcal over plan", x.Day, x.MealType.Label(), x.Excess))
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
