package dashboard

import (
	"sort"
	"time"

	"goflare.io/pulse/internal/models"
)

const maxTopEntities = 3

type companyTotals struct {
	name     string
	revenue  float64
	sales    int
	current  float64
	previous float64
}

// topCompanies ranks companies by summed sale totals. Growth compares the
// company's revenue this month with the month before.
func topCompanies(now time.Time, sales []models.Sale, companies []models.Company) []models.TopEntity {
	names := make(map[string]string, len(companies))
	for _, c := range companies {
		if c.ID != "" {
			names[c.ID] = c.Name
		}
	}

	cur, prev := thisAndLastMonth(now)
	totals := make(map[string]*companyTotals)
	for _, s := range sales {
		key := s.CompanyID
		if key == "" {
			key = s.CompanyName
		}
		if key == "" {
			continue
		}

		t, ok := totals[key]
		if !ok {
			t = &companyTotals{name: companyName(s, names)}
			totals[key] = t
		}
		t.revenue += s.Total
		t.sales++
		switch {
		case cur.contains(s.CreatedAt):
			t.current += s.Total
		case prev.contains(s.CreatedAt):
			t.previous += s.Total
		}
	}

	out := make([]models.TopEntity, 0, len(totals))
	for _, t := range totals {
		out = append(out, models.TopEntity{
			Name:    t.name,
			Revenue: roundCents(t.revenue),
			Growth:  growthPercent(t.current, t.previous),
			Sales:   t.sales,
		})
	}
	return rankEntities(out)
}

// rankEntities sorts by revenue, highest first, and keeps the top three.
func rankEntities(entities []models.TopEntity) []models.TopEntity {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Revenue != entities[j].Revenue {
			return entities[i].Revenue > entities[j].Revenue
		}
		return entities[i].Name < entities[j].Name
	})
	if len(entities) > maxTopEntities {
		entities = entities[:maxTopEntities]
	}
	return entities
}

func companyName(s models.Sale, names map[string]string) string {
	if s.CompanyName != "" {
		return s.CompanyName
	}
	if n := names[s.CompanyID]; n != "" {
		return n
	}
	return "Company " + s.CompanyID
}
