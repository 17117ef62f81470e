package telegram

import (
	"fmt"
	"strings"

	"diet-coach/internal/calendar"
	"diet-coach/internal/mealplan"
	"diet-coach/internal/metrics"
	"diet-coach/internal/swap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data is "action|arg|arg", well under Telegram's 64 byte limit.
const (
	actDay      = "day"
	actWeek     = "wk"
	actCheckIn  = "ci"
	actAll      = "all"
	actSwap     = "sw"
	actMode     = "mode"
	actDish     = "dish"
	actMore     = "more"
	actCancel   = "swx"
	actEval     = "ev"
	actView     = "view"
	actGenerate = "gen"
	actNoop     = "noop"
)

func callbackData(action string, args ...any) string {
	parts := []string{action}
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, "|")
}

func parseCallback(data string) (string, []string) {
	parts := strings.Split(data, "|")
	return parts[0], parts[1:]
}

func esc(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func button(text, action string, args ...any) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, callbackData(action, args...))
}

func scoreLine(c mealplan.Compliance) string {
	return fmt.Sprintf("Meals %d%% · Calories %d%%", c.MealCompliance, c.CalorieCompliance)
}

func dayLabel(h calendar.DayHeader) string {
	label := h.Date.Format("Mon Jan 2")
	switch {
	case h.IsToday:
		label += " (today)"
	case h.IsFuture:
		label += " (upcoming)"
	}
	return label
}

func formatDay(v calendar.DayView) string {
	if v.Header == nil {
		return "You don't have a meal plan yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 *Week %d of %d* · %s\n", v.Week, v.TotalWeeks, dayLabel(*v.Header))
	for _, s := range v.Sections {
		fmt.Fprintf(&sb, "\n*%s*\n", s.MealType.Label())
		if s.Rest {
			sb.WriteString("_rest_\n")
			continue
		}
		for _, m := range s.Meals {
			mark := "⬜"
			if m.Checked {
				mark = "✅"
			}
			fmt.Fprintf(&sb, "%s %s · %d kcal\n", mark, esc(m.Name), m.Calories)
		}
	}
	fmt.Fprintf(&sb, "\nTotal: %d / %d kcal\n", v.TotalCalories, v.TotalPlannedCalories)
	sb.WriteString(scoreLine(v.Compliance))
	return sb.String()
}

func navRow(hasPrev, hasNext bool, toggle tgbotapi.InlineKeyboardButton) []tgbotapi.InlineKeyboardButton {
	var row []tgbotapi.InlineKeyboardButton
	if hasPrev {
		row = append(row, button("◀️ Week", actWeek, "prev"))
	}
	row = append(row, toggle)
	if hasNext {
		row = append(row, button("Week ▶️", actWeek, "next"))
	}
	return row
}

func dayKeyboard(v calendar.DayView) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	var picker []tgbotapi.InlineKeyboardButton
	for _, h := range v.Picker {
		label := h.Date.Format("Mon")[:2]
		if h.Index == v.Selected {
			label = "•" + label
		}
		picker = append(picker, button(label, actDay, h.Index))
	}
	if len(picker) > 0 {
		rows = append(rows, picker)
	}

	if v.Header != nil && !v.Header.IsFuture {
		for _, s := range v.Sections {
			for _, m := range s.Meals {
				switch {
				case m.Busy:
					rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("⏳ "+m.Name, actNoop)))
				case m.Checked:
					rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("🔄 Swap "+m.Name, actSwap, m.ID)))
				default:
					rows = append(rows, tgbotapi.NewInlineKeyboardRow(
						button("✔️ "+m.Name, actCheckIn, m.ID),
						button("🔄", actSwap, m.ID),
					))
				}
			}
			if len(s.Meals) > 1 && !s.AllChecked && !s.Busy {
				rows = append(rows, tgbotapi.NewInlineKeyboardRow(
					button("✔️ All "+strings.ToLower(s.MealType.Label()), actAll, v.Header.Day, s.MealType),
				))
			}
		}
	}

	rows = append(rows, navRow(v.HasPrev, v.HasNext, button("🗓 Week", actView, "week")))
	if v.Evaluation.CanAdvance {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("🏁 Evaluate week", actView, "eval")))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func formatWeek(g calendar.Grid) string {
	if len(g.Days) == 0 {
		return "You don't have a meal plan yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🗓 *Week %d of %d*\n\n", g.Week, g.TotalWeeks)
	for i, d := range g.Days {
		checked, total := 0, 0
		for _, r := range g.Rows {
			for _, m := range r.Cells[i].Meals {
				total++
				if m.Checked {
					checked++
				}
			}
		}
		mark := "⬜"
		switch {
		case total > 0 && checked == total:
			mark = "✅"
		case d.IsFuture:
			mark = "▫️"
		}
		label := d.Date.Format("Mon 01/02")
		if d.IsToday {
			label = "*" + label + "*"
		}
		fmt.Fprintf(&sb, "%s %s  %d/%d meals · %d/%d kcal\n", mark, label, checked, total, g.Totals[i].Calories, g.Totals[i].PlannedCalories)
	}
	sb.WriteString("\n")
	sb.WriteString(scoreLine(g.Compliance))
	return sb.String()
}

func weekKeyboard(g calendar.Grid) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var days []tgbotapi.InlineKeyboardButton
	for _, d := range g.Days {
		days = append(days, button(d.Date.Format("Mon")[:2], actDay, d.Index))
	}
	if len(days) > 0 {
		rows = append(rows, days)
	}
	rows = append(rows, navRow(g.HasPrev, g.HasNext, button("📋 Day", actView, "day")))
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("🏁 Evaluate week", actView, "eval")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func formatEvaluation(e calendar.Evaluation) string {
	c := e.Compliance
	var sb strings.Builder
	fmt.Fprintf(&sb, "🏁 *Week %d evaluation*\n\n", e.Week)
	fmt.Fprintf(&sb, "Meals: %d%% (%d/%d)\n", c.MealCompliance, c.CheckedMeals, c.TotalMeals)
	fmt.Fprintf(&sb, "Calories: %d%% (%d/%d kcal)\n", c.CalorieCompliance, c.TotalActual, c.TotalPlanned)
	for _, x := range c.Exceeded {
		fmt.Fprintf(&sb, "⚠️ Day %d %s: +%d kcal over plan\n", x.Day, strings.ToLower(x.MealType.Label()), x.Excess)
	}
	sb.WriteString("\n")
	switch {
	case e.Busy:
		sb.WriteString("⏳ Preparing your next week...")
	case c.IsPassed:
		sb.WriteString("✅ Passed! You can move on.")
	default:
		fmt.Fprintf(&sb, "❌ Reach %d%% on both scores to move on.", mealplan.PassThreshold)
	}
	return sb.String()
}

func evaluationKeyboard(e calendar.Evaluation) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if e.CanAdvance {
		label := "➡️ Next week"
		if e.IsLastWeek {
			label = "➕ Start a new week"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button(label, actEval, "advance")))
	}
	if !e.Busy {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("↩️ Restart from week 1", actEval, "reset")))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("📋 Back", actView, "day")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

var modeLabels = []struct {
	mode  swap.Mode
	label string
}{
	{swap.ModeAIScan, "📷 AI scan"},
	{swap.ModeVoice, "🎙 Voice"},
	{swap.ModeSearch, "🔎 Search"},
}

func formatSwap(st swap.Status) string {
	if st.Target == nil {
		return "No swap in progress."
	}
	var sb strings.Builder
	t := st.Target
	fmt.Fprintf(&sb, "🔄 *Swap %s · day %d*\n", strings.ToLower(t.MealType.Label()), t.Day)
	fmt.Fprintf(&sb, "Replacing: %s (%d kcal)\n\n", esc(t.PreviousName), t.PreviousCalories)

	switch st.State {
	case swap.StateSubmitting:
		sb.WriteString("⏳ Analyzing your meal...")
		return sb.String()
	case swap.StateResultShown:
		fmt.Fprintf(&sb, "✅ Swapped for *%s* (%d kcal)", esc(st.Result.FoodName), st.Result.Calories)
		return sb.String()
	}

	switch st.Mode {
	case swap.ModeAIScan:
		sb.WriteString("Send a photo of your meal or describe it in a message.")
	case swap.ModeVoice:
		if st.VoiceSupported {
			sb.WriteString("Send a voice message describing your meal.")
		} else {
			sb.WriteString("Voice input isn't available here, type the meal instead.")
		}
	case swap.ModeSearch:
		if st.Keyword == "" {
			sb.WriteString("Send a dish name to search the catalog.")
		} else if len(st.Dishes) == 0 {
			fmt.Fprintf(&sb, "No dishes match \"%s\". Try another name.", esc(st.Keyword))
		} else {
			fmt.Fprintf(&sb, "Results for \"%s\":", esc(st.Keyword))
			for _, d := range st.Dishes {
				fmt.Fprintf(&sb, "\n• %s · %d kcal", esc(d.Name), d.BaseCalories)
				if d.Description != "" {
					fmt.Fprintf(&sb, "\n  _%s_", esc(d.Description))
				}
			}
		}
	}
	if st.Error != "" {
		fmt.Fprintf(&sb, "\n\n❌ %s", esc(st.Error))
		if st.Draft != "" {
			fmt.Fprintf(&sb, "\nYour text: _%s_", esc(st.Draft))
		}
	}
	return sb.String()
}

func swapKeyboard(st swap.Status) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if st.State == swap.StateSubmitting || st.State == swap.StateResultShown {
		return tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	var tabs []tgbotapi.InlineKeyboardButton
	for _, m := range modeLabels {
		label := m.label
		if m.mode == st.Mode {
			label = "•" + label
		}
		tabs = append(tabs, button(label, actMode, m.mode))
	}
	rows = append(rows, tabs)
	if st.Mode == swap.ModeSearch {
		for _, d := range st.Dishes {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				button(fmt.Sprintf("%s · %d kcal", d.Name, d.BaseCalories), actDish, d.ID),
			))
		}
		if st.HasMore {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("More results", actMore, st.Page+1)))
		}
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("✖️ Cancel", actCancel)))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func formatOutcomes(outcomes []calendar.CheckInOutcome) string {
	ok := 0
	var failed []string
	for _, o := range outcomes {
		if o.OK() {
			ok++
			continue
		}
		failed = append(failed, o.MealName)
	}
	switch {
	case len(outcomes) == 0:
		return "Nothing left to check in."
	case len(failed) == 0:
		return fmt.Sprintf("Checked in %d meals.", ok)
	}
	return fmt.Sprintf("Checked in %d of %d. Failed: %s", ok, len(outcomes), strings.Join(failed, ", "))
}

func formatMetrics(usage []metrics.DailyUsage, endpoints []metrics.EndpointUsage, users int, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent Backend Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		fmt.Fprintf(&sb, "• *%s*: %d calls, %d failed, avg %dms\n", d.Date, d.Calls, d.Failures, d.AvgLatencyMS)
	}

	if len(endpoints) > 0 {
		sb.WriteString("\n🔌 *Endpoints*\n")
		for _, e := range endpoints {
			fmt.Fprintf(&sb, "• %s: %d calls, avg %dms, max %dms\n", esc(e.Endpoint), e.Calls, e.AvgLatencyMS, e.MaxLatencyMS)
		}
	}

	sb.WriteString("\n🧠 *System Health*\n")
	fmt.Fprintf(&sb, "• Users: %d\n", users)
	fmt.Fprintf(&sb, "• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB)
	fmt.Fprintf(&sb, "• Goroutines: %d\n", health.Goroutines)
	fmt.Fprintf(&sb, "• Disk Data: %s\n", health.DataDiskSize)
	return sb.String()
}
