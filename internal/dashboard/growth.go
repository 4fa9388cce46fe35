package dashboard

import (
	"math"
	"time"

	"goflare.io/pulse/internal/models"
)

const seriesMonths = 6

// monthWindow is one calendar month, both bounds inclusive.
type monthWindow struct {
	label string
	start time.Time
	end   time.Time
}

func (w monthWindow) contains(t time.Time) bool {
	return !t.Before(w.start) && !t.After(w.end)
}

// monthWindows returns the n trailing calendar months ending with the month
// of now, oldest first.
func monthWindows(now time.Time, n int) []monthWindow {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	out := make([]monthWindow, 0, n)
	for i := n - 1; i >= 0; i-- {
		start := first.AddDate(0, -i, 0)
		out = append(out, monthWindow{
			label: start.Format("Jan"),
			start: start,
			end:   start.AddDate(0, 1, 0).Add(-time.Nanosecond),
		})
	}
	return out
}

// thisAndLastMonth returns the current and the previous calendar month.
func thisAndLastMonth(now time.Time) (monthWindow, monthWindow) {
	w := monthWindows(now, 2)
	return w[1], w[0]
}

// growthSeries emits one point per trailing month using fill.
func growthSeries(now time.Time, fill func(w monthWindow) models.GrowthPoint) []models.GrowthPoint {
	windows := monthWindows(now, seriesMonths)
	out := make([]models.GrowthPoint, 0, len(windows))
	for _, w := range windows {
		p := fill(w)
		p.Period = w.label
		out = append(out, p)
	}
	return out
}

func adminSeries(now time.Time, data *collections) []models.GrowthPoint {
	return growthSeries(now, func(w monthWindow) models.GrowthPoint {
		var p models.GrowthPoint
		for _, u := range data.users {
			if w.contains(u.CreatedAt) {
				p.Count++
			}
		}
		for _, c := range data.companies {
			if w.contains(c.CreatedAt) {
				p.SecondaryCount++
			}
		}
		p.Amount = roundCents(sumSales(data.sales, w))
		return p
	})
}

// salesSeries counts sales per month and the distinct counterparts seen in
// each month: customers for an entrepreneur, suppliers for a client.
func salesSeries(now time.Time, sales []models.Sale, counterpart func(models.Sale) string) []models.GrowthPoint {
	return growthSeries(now, func(w monthWindow) models.GrowthPoint {
		var p models.GrowthPoint
		seen := make(map[string]struct{})
		for _, s := range sales {
			if !w.contains(s.CreatedAt) {
				continue
			}
			p.Count++
			p.Amount += s.Total
			if id := counterpart(s); id != "" {
				seen[id] = struct{}{}
			}
		}
		p.SecondaryCount = len(seen)
		p.Amount = roundCents(p.Amount)
		return p
	})
}

func sumSales(sales []models.Sale, w monthWindow) float64 {
	var total float64
	for _, s := range sales {
		if w.contains(s.CreatedAt) {
			total += s.Total
		}
	}
	return total
}

// growthPercent is the month-over-month change rounded to one decimal.
// Growth from nothing counts as 100%.
func growthPercent(cur, prev float64) float64 {
	if prev == 0 {
		if cur > 0 {
			return 100
		}
		return 0
	}
	return math.Round((cur-prev)/prev*1000) / 10
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
