package dashboard

import (
	"time"

	"goflare.io/pulse/internal/models"
	"goflare.io/pulse/internal/normalize"
)

// collections holds the decoded raw lists. A failed fetch leaves its list
// empty and is counted in failed.
type collections struct {
	users     []models.User
	companies []models.Company
	products  []models.Product
	sales     []models.Sale
	failed    int
}

// Keys the consolidated payload may use for the derived collections.
var (
	seriesKeys    = []string{"growth_series", "growthSeries", "platform_growth", "platformGrowth", "sales_growth", "salesGrowth"}
	categoryKeys  = []string{"categories", "sector_distribution", "sectorDistribution"}
	topEntityKeys = []string{"top_entities", "topEntities", "top_companies", "topCompanies"}
	activityKeys  = []string{"recent_activity", "recentActivity", "recent_activities", "recentActivities"}
)

// coreFromPayload decodes the role's core from the consolidated payload. A
// recognized key with an unusable value rejects the whole payload.
func coreFromPayload(m *models.DashboardMetrics, payload map[string]any) error {
	switch m.Role {
	case models.RoleEntrepreneur:
		var core models.EntrepreneurMetrics
		if err := normalize.Decode(payload, &core); err != nil {
			return err
		}
		m.Entrepreneur = &core
	case models.RoleClient:
		var core models.ClientMetrics
		if err := normalize.Decode(payload, &core); err != nil {
			return err
		}
		m.Client = &core
	default:
		var core models.AdminMetrics
		if err := normalize.Decode(payload, &core); err != nil {
			return err
		}
		m.Admin = &core
	}
	return nil
}

// coreOf returns the role variant set on m.
func coreOf(m *models.DashboardMetrics) any {
	switch {
	case m.Entrepreneur != nil:
		return m.Entrepreneur
	case m.Client != nil:
		return m.Client
	default:
		return m.Admin
	}
}

// fillEmpty replaces nil collections with empty ones. Codecs such as gob do
// not keep an empty slice apart from nil.
func fillEmpty(m *models.DashboardMetrics) {
	if m.GrowthSeries == nil {
		m.GrowthSeries = []models.GrowthPoint{}
	}
	if m.Categories == nil {
		m.Categories = []models.CategoryShare{}
	}
	if m.TopEntities == nil {
		m.TopEntities = []models.TopEntity{}
	}
	if m.RecentActivity == nil {
		m.RecentActivity = []models.Activity{}
	}
	if m.SystemHealth == nil {
		m.SystemHealth = []models.ServiceHealth{}
	}
}

// collectionsFromPayload fills the derived collections shipped with the
// consolidated payload. Missing collections stay empty.
func collectionsFromPayload(m *models.DashboardMetrics, payload map[string]any) {
	m.GrowthSeries = listFrom[models.GrowthPoint](payload, seriesKeys)
	if len(m.GrowthSeries) > seriesMonths {
		m.GrowthSeries = m.GrowthSeries[len(m.GrowthSeries)-seriesMonths:]
	}

	m.Categories = []models.CategoryShare{}
	m.TopEntities = []models.TopEntity{}
	if m.Role == models.RoleAdmin {
		m.Categories = listFrom[models.CategoryShare](payload, categoryKeys)
		if len(m.Categories) > maxCategories+1 {
			m.Categories = m.Categories[:maxCategories+1]
		}
		colorize(m.Categories)
		m.TopEntities = rankEntities(listFrom[models.TopEntity](payload, topEntityKeys))
	}

	m.RecentActivity = latest(listFrom[models.Activity](payload, activityKeys), maxActivity)
}

func listFrom[T any](payload map[string]any, keys []string) []T {
	for _, k := range keys {
		raw, ok := payload[k].([]any)
		if !ok {
			continue
		}
		items := make([]map[string]any, 0, len(raw))
		for _, it := range raw {
			if obj, ok := it.(map[string]any); ok {
				items = append(items, obj)
			}
		}
		out, _ := normalize.DecodeAll[T](items, nil)
		return out
	}
	return []T{}
}

// coreFromCollections rebuilds the role's core from raw lists.
func coreFromCollections(m *models.DashboardMetrics, now time.Time, data *collections) {
	cur, prev := thisAndLastMonth(now)

	switch m.Role {
	case models.RoleEntrepreneur:
		newProducts, lastProducts := 0, 0
		for _, p := range data.products {
			switch {
			case cur.contains(p.CreatedAt):
				newProducts++
			case prev.contains(p.CreatedAt):
				lastProducts++
			}
		}
		customers := firstSeen(data.sales, func(s models.Sale) string { return s.CustomerID })
		m.Entrepreneur = &models.EntrepreneurMetrics{
			TotalProducts:         len(data.products),
			TotalCustomers:        len(customers),
			TotalRevenue:          roundCents(sumAll(data.sales)),
			MonthlySales:          countIn(data.sales, cur),
			NewProductsThisMonth:  newProducts,
			NewCustomersThisMonth: countFirstSeen(customers, cur),
			ProductGrowth:         growthPercent(float64(newProducts), float64(lastProducts)),
			SalesGrowth:           growthPercent(float64(countIn(data.sales, cur)), float64(countIn(data.sales, prev))),
			RevenueGrowth:         growthPercent(sumSales(data.sales, cur), sumSales(data.sales, prev)),
		}

	case models.RoleClient:
		suppliers := firstSeen(data.sales, supplierOf)
		pending := 0
		for _, s := range data.sales {
			if s.IsPending() {
				pending++
			}
		}
		m.Client = &models.ClientMetrics{
			TotalOrders:           len(data.sales),
			TotalSuppliers:        len(suppliers),
			TotalSpent:            roundCents(sumAll(data.sales)),
			PendingOrders:         pending,
			NewOrdersThisMonth:    countIn(data.sales, cur),
			NewSuppliersThisMonth: countFirstSeen(suppliers, cur),
			OrderGrowth:           growthPercent(float64(countIn(data.sales, cur)), float64(countIn(data.sales, prev))),
			SupplierGrowth:        growthPercent(float64(countFirstSeen(suppliers, cur)), float64(countFirstSeen(suppliers, prev))),
			SpendGrowth:           growthPercent(sumSales(data.sales, cur), sumSales(data.sales, prev)),
		}

	default:
		active, newUsers, lastUsers := 0, 0, 0
		for _, u := range data.users {
			if u.Active {
				active++
			}
			switch {
			case cur.contains(u.CreatedAt):
				newUsers++
			case prev.contains(u.CreatedAt):
				lastUsers++
			}
		}
		newCompanies, lastCompanies := 0, 0
		for _, c := range data.companies {
			switch {
			case cur.contains(c.CreatedAt):
				newCompanies++
			case prev.contains(c.CreatedAt):
				lastCompanies++
			}
		}
		m.Admin = &models.AdminMetrics{
			TotalUsers:            len(data.users),
			TotalCompanies:        len(data.companies),
			TotalProducts:         len(data.products),
			TotalRevenue:          roundCents(sumAll(data.sales)),
			ActiveUsers:           active,
			NewUsersThisMonth:     newUsers,
			NewCompaniesThisMonth: newCompanies,
			UserGrowth:            growthPercent(float64(newUsers), float64(lastUsers)),
			CompanyGrowth:         growthPercent(float64(newCompanies), float64(lastCompanies)),
			RevenueGrowth:         growthPercent(sumSales(data.sales, cur), sumSales(data.sales, prev)),
		}
	}
}

// collectionsFromRaw derives the role's collections from raw lists.
func collectionsFromRaw(m *models.DashboardMetrics, now time.Time, data *collections) {
	m.Categories = []models.CategoryShare{}
	m.TopEntities = []models.TopEntity{}

	switch m.Role {
	case models.RoleEntrepreneur:
		m.GrowthSeries = salesSeries(now, data.sales, func(s models.Sale) string { return s.CustomerID })
	case models.RoleClient:
		m.GrowthSeries = salesSeries(now, data.sales, supplierOf)
	default:
		m.GrowthSeries = adminSeries(now, data)
		m.Categories = categoryDistribution(data.companies)
		m.TopEntities = topCompanies(now, data.sales, data.companies)
	}

	m.RecentActivity = recentActivity(m.Role, data)
}

func supplierOf(s models.Sale) string {
	if s.CompanyID != "" {
		return s.CompanyID
	}
	return s.CompanyName
}

func sumAll(sales []models.Sale) float64 {
	var total float64
	for _, s := range sales {
		total += s.Total
	}
	return total
}

func countIn(sales []models.Sale, w monthWindow) int {
	n := 0
	for _, s := range sales {
		if w.contains(s.CreatedAt) {
			n++
		}
	}
	return n
}

// firstSeen maps each counterpart to the time of its earliest sale.
func firstSeen(sales []models.Sale, key func(models.Sale) string) map[string]time.Time {
	out := make(map[string]time.Time)
	for _, s := range sales {
		id := key(s)
		if id == "" {
			continue
		}
		if t, ok := out[id]; !ok || s.CreatedAt.Before(t) {
			out[id] = s.CreatedAt
		}
	}
	return out
}

func countFirstSeen(seen map[string]time.Time, w monthWindow) int {
	n := 0
	for _, t := range seen {
		if w.contains(t) {
			n++
		}
	}
	return n
}
