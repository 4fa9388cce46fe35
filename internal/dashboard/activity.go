package dashboard

import (
	"fmt"
	"sort"

	"goflare.io/pulse/internal/models"
)

const (
	perStream   = 3
	maxActivity = 4
)

// recentActivity takes the latest few items of every stream the role sees,
// merges them and keeps the newest four.
func recentActivity(role models.Role, data *collections) []models.Activity {
	var streams [][]models.Activity
	switch role {
	case models.RoleEntrepreneur:
		streams = append(streams, mapSales(data.sales, models.ActivityNewSale))
	case models.RoleClient:
		streams = append(streams, mapSales(data.sales, models.ActivityNewOrder))
	default:
		streams = append(streams,
			mapUsers(data.users),
			mapCompanies(data.companies),
			mapSales(data.sales, models.ActivityNewSale),
		)
	}

	merged := make([]models.Activity, 0, perStream*len(streams))
	for _, s := range streams {
		merged = append(merged, latest(s, perStream)...)
	}
	return latest(merged, maxActivity)
}

// latest sorts newest first and truncates to n. Items without a timestamp
// are dropped.
func latest(items []models.Activity, n int) []models.Activity {
	out := make([]models.Activity, 0, len(items))
	for _, it := range items {
		if !it.Timestamp.IsZero() {
			it.Timestamp = it.Timestamp.UTC()
			out = append(out, it)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func mapUsers(users []models.User) []models.Activity {
	out := make([]models.Activity, 0, len(users))
	for _, u := range users {
		name := u.Name
		if name == "" {
			name = "A new user"
		}
		out = append(out, models.Activity{
			ID:        "user-" + u.ID,
			Type:      models.ActivityNewUser,
			Message:   name + " joined the platform",
			Timestamp: u.CreatedAt,
			Icon:      "user-plus",
			Color:     "blue",
		})
	}
	return out
}

func mapCompanies(companies []models.Company) []models.Activity {
	out := make([]models.Activity, 0, len(companies))
	for _, c := range companies {
		name := c.Name
		if name == "" {
			name = "A new company"
		}
		out = append(out, models.Activity{
			ID:        "company-" + c.ID,
			Type:      models.ActivityNewCompany,
			Message:   name + " was registered",
			Timestamp: c.CreatedAt,
			Icon:      "building",
			Color:     "green",
		})
	}
	return out
}

func mapSales(sales []models.Sale, kind models.ActivityType) []models.Activity {
	out := make([]models.Activity, 0, len(sales))
	for _, s := range sales {
		a := models.Activity{
			Timestamp: s.CreatedAt,
		}
		if kind == models.ActivityNewOrder {
			a.ID = "order-" + s.ID
			a.Type = models.ActivityNewOrder
			a.Message = fmt.Sprintf("Order #%s placed for %.2f", s.ID, s.Total)
			a.Icon = "package"
			a.Color = "orange"
			if s.IsPending() {
				a.Message += " (pending)"
			}
		} else {
			a.ID = "sale-" + s.ID
			a.Type = models.ActivityNewSale
			a.Message = fmt.Sprintf("New sale of %.2f", s.Total)
			a.Icon = "shopping-cart"
			a.Color = "purple"
			if s.CompanyName != "" {
				a.Message += " at " + s.CompanyName
			}
		}
		out = append(out, a)
	}
	return out
}
