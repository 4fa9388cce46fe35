package dashboard

import (
	"time"

	"goflare.io/pulse/internal/models"
)

// defaultMetrics is served when no source answered: zero core, empty
// collections, static health. It is never cached.
func defaultMetrics(req models.Request, now time.Time) *models.DashboardMetrics {
	m := &models.DashboardMetrics{
		Role:           req.Role,
		Period:         req.Period,
		Source:         models.SourceDefault,
		GeneratedAt:    now.UTC(),
		GrowthSeries:   []models.GrowthPoint{},
		Categories:     []models.CategoryShare{},
		TopEntities:    []models.TopEntity{},
		RecentActivity: []models.Activity{},
		SystemHealth:   staticHealth(),
	}

	switch req.Role {
	case models.RoleEntrepreneur:
		m.Entrepreneur = &models.EntrepreneurMetrics{}
	case models.RoleClient:
		m.Client = &models.ClientMetrics{}
	default:
		m.Admin = &models.AdminMetrics{}
	}
	return m
}
