package models

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies whose view of the platform a dashboard shows.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleEntrepreneur Role = "entrepreneur"
	RoleClient       Role = "client"
)

// DefaultPeriod is used when a request carries no period.
const DefaultPeriod = "today"

// Normalize maps empty and unknown roles onto the admin path.
func (r Role) Normalize() Role {
	switch Role(strings.ToLower(string(r))) {
	case RoleEntrepreneur:
		return RoleEntrepreneur
	case RoleClient:
		return RoleClient
	default:
		return RoleAdmin
	}
}

// Request identifies one dashboard snapshot and its cache entry.
type Request struct {
	Role   Role
	Period string
}

// NewRequest normalizes role and period.
func NewRequest(role Role, period string) Request {
	if period == "" {
		period = DefaultPeriod
	}
	return Request{Role: role.Normalize(), Period: period}
}

// ParseRequest parses the "role:period" form used in warmup lists.
func ParseRequest(s string) (Request, error) {
	role, period, ok := strings.Cut(s, ":")
	if !ok || role == "" {
		return Request{}, fmt.Errorf("invalid dashboard request %q: want role:period", s)
	}
	return NewRequest(Role(role), period), nil
}

// Key returns the cache key under prefix.
func (r Request) Key(prefix string) string {
	return prefix + ":" + string(r.Role) + ":" + r.Period
}

// Source records which path produced a snapshot.
type Source string

const (
	SourceConsolidated Source = "consolidated"
	SourceFallback     Source = "fallback"
	SourceDefault      Source = "default"
)

// DashboardMetrics is an immutable dashboard snapshot. Exactly one of
// Admin, Entrepreneur and Client is set, matching Role.
type DashboardMetrics struct {
	Role        Role      `json:"role"`
	Period      string    `json:"period"`
	Source      Source    `json:"source"`
	GeneratedAt time.Time `json:"generated_at"`

	Admin        *AdminMetrics        `json:"admin,omitempty"`
	Entrepreneur *EntrepreneurMetrics `json:"entrepreneur,omitempty"`
	Client       *ClientMetrics       `json:"client,omitempty"`

	GrowthSeries   []GrowthPoint   `json:"growth_series"`
	Categories     []CategoryShare `json:"categories"`
	TopEntities    []TopEntity     `json:"top_entities"`
	RecentActivity []Activity      `json:"recent_activity"`
	SystemHealth   []ServiceHealth `json:"system_health"`
}

// AdminMetrics is the platform-wide core.
type AdminMetrics struct {
	TotalUsers            int     `json:"total_users" coalesce:"users_count,totalUsers,total_users"`
	TotalCompanies        int     `json:"total_companies" coalesce:"companies_count,totalCompanies,total_companies"`
	TotalProducts         int     `json:"total_products" coalesce:"products_count,totalProducts,total_products"`
	TotalRevenue          float64 `json:"total_revenue" coalesce:"total_revenue,totalRevenue,revenue"`
	ActiveUsers           int     `json:"active_users" coalesce:"active_users,activeUsers,active_users_count"`
	NewUsersThisMonth     int     `json:"new_users_this_month" coalesce:"new_users_this_month,newUsersThisMonth,new_users"`
	NewCompaniesThisMonth int     `json:"new_companies_this_month" coalesce:"new_companies_this_month,newCompaniesThisMonth,new_companies"`
	UserGrowth            float64 `json:"user_growth" coalesce:"user_growth,userGrowth,users_growth"`
	CompanyGrowth         float64 `json:"company_growth" coalesce:"company_growth,companyGrowth,companies_growth"`
	RevenueGrowth         float64 `json:"revenue_growth" coalesce:"revenue_growth,revenueGrowth"`
}

// EntrepreneurMetrics is scoped to the entrepreneur's own company.
type EntrepreneurMetrics struct {
	TotalProducts         int     `json:"total_products" coalesce:"products_count,totalProducts,total_products"`
	TotalCustomers        int     `json:"total_customers" coalesce:"customers_count,totalCustomers,total_customers"`
	TotalRevenue          float64 `json:"total_revenue" coalesce:"total_revenue,totalRevenue,revenue"`
	MonthlySales          int     `json:"monthly_sales" coalesce:"monthly_sales,monthlySales,sales_this_month"`
	NewProductsThisMonth  int     `json:"new_products_this_month" coalesce:"new_products_this_month,newProductsThisMonth,new_products"`
	NewCustomersThisMonth int     `json:"new_customers_this_month" coalesce:"new_customers_this_month,newCustomersThisMonth,new_customers"`
	ProductGrowth         float64 `json:"product_growth" coalesce:"product_growth,productGrowth,products_growth"`
	SalesGrowth           float64 `json:"sales_growth" coalesce:"sales_growth,salesGrowth"`
	RevenueGrowth         float64 `json:"revenue_growth" coalesce:"revenue_growth,revenueGrowth"`
}

// ClientMetrics is scoped to the client's own orders.
type ClientMetrics struct {
	TotalOrders           int     `json:"total_orders" coalesce:"orders_count,totalOrders,total_orders"`
	TotalSuppliers        int     `json:"total_suppliers" coalesce:"suppliers_count,totalSuppliers,total_suppliers"`
	TotalSpent            float64 `json:"total_spent" coalesce:"total_spent,totalSpent,spent"`
	PendingOrders         int     `json:"pending_orders" coalesce:"pending_orders,pendingOrders,pending_orders_count"`
	NewOrdersThisMonth    int     `json:"new_orders_this_month" coalesce:"new_orders_this_month,newOrdersThisMonth,new_orders"`
	NewSuppliersThisMonth int     `json:"new_suppliers_this_month" coalesce:"new_suppliers_this_month,newSuppliersThisMonth,new_suppliers"`
	OrderGrowth           float64 `json:"order_growth" coalesce:"order_growth,orderGrowth,orders_growth"`
	SupplierGrowth        float64 `json:"supplier_growth" coalesce:"supplier_growth,supplierGrowth,suppliers_growth"`
	SpendGrowth           float64 `json:"spend_growth" coalesce:"spend_growth,spendGrowth"`
}

// GrowthPoint is one month of a growth series.
type GrowthPoint struct {
	Period         string  `json:"period" coalesce:"period,month,label,name"`
	Count          int     `json:"count" coalesce:"count,users,orders,sales"`
	SecondaryCount int     `json:"secondary_count" coalesce:"secondary_count,secondaryCount,companies,customers,suppliers"`
	Amount         float64 `json:"amount" coalesce:"amount,revenue,total,spent"`
}

// CategoryShare is one slice of the sector distribution.
type CategoryShare struct {
	Name       string `json:"name" coalesce:"name,sector,category"`
	Percentage int    `json:"percentage" coalesce:"percentage,value,share"`
	Color      string `json:"color" coalesce:"color"`
	Count      int    `json:"count" coalesce:"count,companies_count,companiesCount"`
}

// TopEntity is one row of the revenue ranking.
type TopEntity struct {
	Name    string  `json:"name" coalesce:"name,company_name,companyName"`
	Revenue float64 `json:"revenue" coalesce:"revenue,total_revenue,totalRevenue,total"`
	Growth  float64 `json:"growth" coalesce:"growth,revenue_growth,revenueGrowth"`
	Sales   int     `json:"sales" coalesce:"sales,sales_count,salesCount,orders"`
}

// ActivityType tags an activity feed item.
type ActivityType string

const (
	ActivityNewUser    ActivityType = "new_user"
	ActivityNewCompany ActivityType = "new_company"
	ActivityNewSale    ActivityType = "new_sale"
	ActivityNewOrder   ActivityType = "new_order"
)

// Activity is one item of the recent activity feed.
type Activity struct {
	ID        string       `json:"id" coalesce:"id"`
	Type      ActivityType `json:"type" coalesce:"type,kind"`
	Message   string       `json:"message" coalesce:"message,title,description"`
	Timestamp time.Time    `json:"timestamp" coalesce:"timestamp,time,created_at,createdAt"`
	Icon      string       `json:"icon" coalesce:"icon"`
	Color     string       `json:"color" coalesce:"color"`
}

// HealthStatus mirrors the usual liveness states.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// ServiceHealth is one row of the system health snapshot.
type ServiceHealth struct {
	Service string       `json:"service"`
	Status  HealthStatus `json:"status"`
	Uptime  string       `json:"uptime"`
	Latency string       `json:"latency"`
}
