package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/pulse/internal/cache/multi"
	"goflare.io/pulse/internal/config"
	"goflare.io/pulse/internal/models"
	"goflare.io/pulse/internal/remote"
	"goflare.io/pulse/internal/telemetry"
)

var errDown = errors.New("connection refused")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int

	dashboards   map[models.Role]map[string]any
	dashboardErr error
	lists        map[string][]map[string]any
	listErrs     map[string]error
	health       map[string]any
	healthErr    error
	gate         chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:      make(map[string]int),
		dashboards: make(map[models.Role]map[string]any),
		lists:      make(map[string][]map[string]any),
		listErrs:   make(map[string]error),
		health:     map[string]any{"status": "ok"},
	}
}

func (f *fakeSource) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeSource) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSource) Dashboard(ctx context.Context, role models.Role, period string) (map[string]any, error) {
	f.record("dashboard")
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.dashboardErr != nil {
		return nil, f.dashboardErr
	}
	payload, ok := f.dashboards[role]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return payload, nil
}

func (f *fakeSource) List(ctx context.Context, collection string) ([]map[string]any, error) {
	f.record(collection)
	if err := f.listErrs[collection]; err != nil {
		return nil, err
	}
	return f.lists[collection], nil
}

func (f *fakeSource) Health(ctx context.Context) (map[string]any, error) {
	f.record("health")
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return f.health, nil
}

func (f *fakeSource) failEverything() {
	f.dashboardErr = errDown
	f.healthErr = errDown
	for _, name := range rawCollections {
		f.listErrs[name] = errDown
	}
}

type harness struct {
	agg       *Aggregator
	source    *fakeSource
	clock     *fakeClock
	collector *telemetry.Collector
}

func newHarness(t *testing.T, opts ...config.Option) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}

	cfg, err := config.NewConfig(append([]config.Option{
		config.WithLogger(zap.NewNop()),
		func(c *config.Config) error {
			c.API.BaseURL = "http://api.local"
			c.Clock = clock.Now
			return nil
		},
	}, opts...)...)
	require.NoError(t, err)

	cache, err := multi.NewCache(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	collector, err := telemetry.NewCollector("test", nil)
	require.NoError(t, err)

	source := newFakeSource()
	return &harness{
		agg:       New(cfg, source, cache, collector),
		source:    source,
		clock:     clock,
		collector: collector,
	}
}

func fallbackLists() map[string][]map[string]any {
	return map[string][]map[string]any{
		remote.Users: {
			{"id": 1.0, "username": "ana", "is_active": true, "date_joined": "2026-05-02T09:00:00Z"},
			{"id": 2.0, "username": "bo", "is_active": false, "date_joined": "2026-04-15T09:00:00Z"},
		},
		remote.Companies: {
			{"id": 10.0, "name": "Acme", "sector": "Retail", "created_at": "2026-05-03T09:00:00Z"},
		},
		remote.Products: {},
		remote.Sales: {
			{"id": 100.0, "company": 10.0, "company_name": "Acme", "total": 1000.0, "created_at": "2026-05-04T09:00:00Z"},
			{"id": 101.0, "company": 10.0, "company_name": "Acme", "totalAmount": "500", "created_at": "2026-04-20T09:00:00Z"},
		},
	}
}

func TestCacheHitReturnsSameSnapshot(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{"users_count": 7.0, "totalRevenue": 120.5}

	first, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)
	second, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.source.count("dashboard"))
	assert.EqualValues(t, 1, h.collector.Snapshot().Hits)
	assert.EqualValues(t, 1, h.collector.Snapshot().Misses)
}

func TestCacheExpiry(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{"users_count": 7.0}

	_, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "week")
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	_, err = h.agg.GetMetrics(context.Background(), models.RoleAdmin, "week")
	require.NoError(t, err)
	assert.Equal(t, 1, h.source.count("dashboard"))

	h.clock.Advance(2 * time.Minute)
	_, err = h.agg.GetMetrics(context.Background(), models.RoleAdmin, "week")
	require.NoError(t, err)
	assert.Equal(t, 2, h.source.count("dashboard"))
}

func TestPeriodsAreCachedSeparately(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleClient] = map[string]any{"orders_count": 3.0}

	for _, period := range []string{"today", "month", "today", ""} {
		_, err := h.agg.GetMetrics(context.Background(), models.RoleClient, period)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, h.source.count("dashboard"))
}

func TestFieldCoalescing(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{"users_count": 7.0}
	h.source.dashboards[models.RoleEntrepreneur] = map[string]any{}

	m, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)
	require.NotNil(t, m.Admin)
	assert.Equal(t, models.SourceConsolidated, m.Source)
	assert.Equal(t, 7, m.Admin.TotalUsers)
	assert.Equal(t, 0, m.Admin.TotalCompanies)

	m, err = h.agg.GetMetrics(context.Background(), models.RoleEntrepreneur, "today")
	require.NoError(t, err)
	require.NotNil(t, m.Entrepreneur)
	assert.Nil(t, m.Admin)
	assert.Nil(t, m.Client)
	assert.Equal(t, models.EntrepreneurMetrics{}, *m.Entrepreneur)
}

func TestConsolidatedCollections(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{
		"totalUsers": 5.0,
		"topCompanies": []any{
			map[string]any{"name": "B", "revenue": 300.0},
			map[string]any{"name": "A", "revenue": 900.0},
			map[string]any{"name": "C", "revenue": 600.0},
			map[string]any{"name": "D", "revenue": 100.0},
		},
		"sector_distribution": []any{map[string]any{"name": "Retail", "percentage": 100.0, "count": 4.0}},
	}

	m, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)

	require.Len(t, m.TopEntities, 3)
	assert.Equal(t, "A", m.TopEntities[0].Name)
	require.Len(t, m.Categories, 1)
	assert.Equal(t, palette[0], m.Categories[0].Color)
	assert.Empty(t, m.GrowthSeries)
	assert.Empty(t, m.RecentActivity)
	assert.Zero(t, h.source.count(remote.Users))
}

func TestMalformedConsolidatedFallsBack(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{"users_count": "many"}
	h.source.lists = fallbackLists()

	m, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)

	assert.Equal(t, models.SourceFallback, m.Source)
	assert.Equal(t, 2, m.Admin.TotalUsers)
}

func TestFallbackCorrectness(t *testing.T) {
	h := newHarness(t)
	h.source.dashboardErr = errDown
	h.source.lists = fallbackLists()

	m, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)
	require.NotNil(t, m.Admin)

	assert.Equal(t, models.SourceFallback, m.Source)
	assert.Equal(t, 2, m.Admin.TotalUsers)
	assert.Equal(t, 1, m.Admin.TotalCompanies)
	assert.Equal(t, 0, m.Admin.TotalProducts)
	assert.Equal(t, 1500.0, m.Admin.TotalRevenue)
	assert.Equal(t, 1, m.Admin.ActiveUsers)
	assert.Equal(t, 1, m.Admin.NewUsersThisMonth)
	assert.Equal(t, 1, m.Admin.NewCompaniesThisMonth)
	assert.Equal(t, 0.0, m.Admin.UserGrowth)
	assert.Equal(t, 100.0, m.Admin.RevenueGrowth)

	require.Len(t, m.GrowthSeries, 6)
	assert.Equal(t, models.GrowthPoint{Period: "May", Count: 1, SecondaryCount: 1, Amount: 1000}, m.GrowthSeries[5])
	assert.Equal(t, models.GrowthPoint{Period: "Apr", Count: 1, Amount: 500}, m.GrowthSeries[4])

	require.Len(t, m.Categories, 1)
	assert.Equal(t, 100, m.Categories[0].Percentage)

	require.Len(t, m.TopEntities, 1)
	assert.Equal(t, models.TopEntity{Name: "Acme", Revenue: 1500, Growth: 100, Sales: 2}, m.TopEntities[0])

	require.Len(t, m.RecentActivity, 4)
	assert.Equal(t, "sale-100", m.RecentActivity[0].ID)
	assert.Equal(t, "company-10", m.RecentActivity[1].ID)
	assert.Equal(t, "user-1", m.RecentActivity[2].ID)
	assert.Equal(t, "sale-101", m.RecentActivity[3].ID)

	for _, name := range rawCollections {
		assert.Equal(t, 1, h.source.count(name), name)
	}
}

func TestPartialFallback(t *testing.T) {
	h := newHarness(t)
	h.source.dashboardErr = errDown
	h.source.lists = fallbackLists()
	h.source.listErrs[remote.Users] = remote.ErrUnauthorized
	h.source.listErrs[remote.Companies] = errDown

	m, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)

	assert.Equal(t, models.SourceFallback, m.Source)
	assert.Equal(t, 0, m.Admin.TotalUsers)
	assert.Equal(t, 0, m.Admin.TotalCompanies)
	assert.Equal(t, 1500.0, m.Admin.TotalRevenue)
	assert.Empty(t, m.Categories)
	assert.Len(t, m.GrowthSeries, 6)
}

func TestEntrepreneurFallback(t *testing.T) {
	h := newHarness(t)
	h.source.dashboardErr = errDown
	h.source.listErrs[remote.Users] = remote.ErrUnauthorized
	h.source.listErrs[remote.Companies] = remote.ErrUnauthorized
	h.source.lists[remote.Products] = []map[string]any{
		{"id": 1.0, "name": "Mug", "created_at": "2026-05-01T00:00:00Z"},
		{"id": 2.0, "name": "Cup", "created_at": "2026-03-01T00:00:00Z"},
	}
	h.source.lists[remote.Sales] = []map[string]any{
		{"id": 1.0, "customer_id": 7.0, "total": 20.0, "created_at": "2026-05-05T00:00:00Z"},
		{"id": 2.0, "customer_id": 8.0, "total": 30.0, "created_at": "2026-05-06T00:00:00Z"},
		{"id": 3.0, "customer_id": 7.0, "total": 50.0, "created_at": "2026-04-06T00:00:00Z"},
	}

	m, err := h.agg.GetMetrics(context.Background(), models.RoleEntrepreneur, "month")
	require.NoError(t, err)
	require.NotNil(t, m.Entrepreneur)
	assert.Nil(t, m.Admin)

	e := m.Entrepreneur
	assert.Equal(t, 2, e.TotalProducts)
	assert.Equal(t, 2, e.TotalCustomers)
	assert.Equal(t, 100.0, e.TotalRevenue)
	assert.Equal(t, 2, e.MonthlySales)
	assert.Equal(t, 1, e.NewProductsThisMonth)
	assert.Equal(t, 1, e.NewCustomersThisMonth)
	assert.Equal(t, 100.0, e.SalesGrowth)
	assert.Equal(t, 0.0, e.RevenueGrowth)

	assert.Empty(t, m.Categories)
	assert.Empty(t, m.TopEntities)
	require.Len(t, m.GrowthSeries, 6)
	assert.Equal(t, models.GrowthPoint{Period: "May", Count: 2, SecondaryCount: 2, Amount: 50}, m.GrowthSeries[5])
	require.Len(t, m.RecentActivity, 3)
	for _, a := range m.RecentActivity {
		assert.Equal(t, models.ActivityNewSale, a.Type)
	}
}

func TestClientFallback(t *testing.T) {
	h := newHarness(t)
	h.source.dashboardErr = errDown
	h.source.lists[remote.Sales] = []map[string]any{
		{"id": 1.0, "company": 3.0, "total": 10.0, "status": "pending", "created_at": "2026-05-05T00:00:00Z"},
		{"id": 2.0, "company": 4.0, "total": 15.0, "status": "delivered", "created_at": "2026-05-07T00:00:00Z"},
		{"id": 3.0, "company": 3.0, "total": 5.0, "status": "processing", "created_at": "2026-02-07T00:00:00Z"},
	}

	m, err := h.agg.GetMetrics(context.Background(), models.RoleClient, "")
	require.NoError(t, err)
	require.NotNil(t, m.Client)

	c := m.Client
	assert.Equal(t, 3, c.TotalOrders)
	assert.Equal(t, 2, c.TotalSuppliers)
	assert.Equal(t, 30.0, c.TotalSpent)
	assert.Equal(t, 2, c.PendingOrders)
	assert.Equal(t, 2, c.NewOrdersThisMonth)
	assert.Equal(t, 1, c.NewSuppliersThisMonth)
	assert.Equal(t, models.DefaultPeriod, m.Period)

	require.Len(t, m.RecentActivity, 3)
	assert.Equal(t, "order-2", m.RecentActivity[0].ID)
	assert.Equal(t, models.ActivityNewOrder, m.RecentActivity[0].Type)
}

func TestGracefulTotalFailure(t *testing.T) {
	h := newHarness(t)
	h.source.failEverything()

	m, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)

	assert.Equal(t, models.SourceDefault, m.Source)
	assert.Equal(t, models.AdminMetrics{}, *m.Admin)
	assert.Empty(t, m.GrowthSeries)
	assert.Empty(t, m.Categories)
	assert.Empty(t, m.TopEntities)
	assert.Empty(t, m.RecentActivity)
	assert.Equal(t, staticHealth(), m.SystemHealth)

	// defaults are not cached
	_, err = h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)
	assert.Equal(t, 2, h.source.count("dashboard"))
	assert.EqualValues(t, 2, h.collector.Snapshot().Defaults)
}

func TestClearCacheForcesRefetch(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{"users_count": 1.0}

	_, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)
	require.NoError(t, h.agg.ClearCache(context.Background()))

	h.source.dashboards[models.RoleAdmin] = map[string]any{"users_count": 2.0}
	m, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)

	assert.Equal(t, 2, h.source.count("dashboard"))
	assert.Equal(t, 2, m.Admin.TotalUsers)
}

func TestConcurrentMissesShareOneBuild(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{"users_count": 4.0}
	h.source.gate = make(chan struct{})

	const callers = 8
	results := make([]*models.DashboardMetrics, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
			assert.NoError(t, err)
			results[i] = m
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(h.source.gate)
	wg.Wait()

	assert.Equal(t, 1, h.source.count("dashboard"))
	for _, m := range results {
		require.NotNil(t, m)
		assert.Equal(t, 4, m.Admin.TotalUsers)
	}
}

func TestCancelledCaller(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{}
	h.source.gate = make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.agg.GetMetrics(ctx, models.RoleAdmin, "today")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(h.source.gate)
}

func TestUnknownRoleTakesAdminPath(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{"users_count": 3.0}

	m, err := h.agg.GetMetrics(context.Background(), "", "")
	require.NoError(t, err)

	assert.Equal(t, models.RoleAdmin, m.Role)
	assert.Equal(t, 3, m.Admin.TotalUsers)
}

func TestWarmup(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{}
	h.source.dashboards[models.RoleClient] = map[string]any{}

	require.NoError(t, h.agg.Warmup(context.Background(), []models.Request{
		models.NewRequest(models.RoleAdmin, "today"),
		models.NewRequest(models.RoleClient, "month"),
	}))
	assert.Equal(t, 2, h.source.count("dashboard"))

	_, err := h.agg.GetMetrics(context.Background(), models.RoleClient, "month")
	require.NoError(t, err)
	assert.Equal(t, 2, h.source.count("dashboard"))
}

func TestNonFiniteConsolidatedFallsBack(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{"total_revenue": "NaN", "users_count": "Inf"}
	h.source.lists = fallbackLists()

	m, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)
	assert.Equal(t, models.SourceFallback, m.Source)
	assert.Equal(t, 2, m.Admin.TotalUsers)

	_, err = json.Marshal(m)
	require.NoError(t, err)

	_, err = h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)
	assert.Equal(t, 1, h.source.count("dashboard"))
}

func TestGobCacheHitKeepsEmptyCollections(t *testing.T) {
	h := newHarness(t, config.WithSerialization("gob"))
	h.source.lists = fallbackLists()

	first, err := h.agg.GetMetrics(context.Background(), models.RoleEntrepreneur, "month")
	require.NoError(t, err)
	require.NotNil(t, first.Categories)
	require.Empty(t, first.Categories)

	second, err := h.agg.GetMetrics(context.Background(), models.RoleEntrepreneur, "month")
	require.NoError(t, err)

	assert.Equal(t, 1, h.source.count("dashboard"))
	require.Equal(t, first, second)
	assert.NotNil(t, second.Categories)
	assert.NotNil(t, second.TopEntities)
}

// startBuild runs GetMetrics in the background and waits until the source
// has been asked for the dashboard n times.
func startBuild(t *testing.T, h *harness, n int) <-chan *models.DashboardMetrics {
	t.Helper()
	out := make(chan *models.DashboardMetrics, 1)
	go func() {
		m, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
		assert.NoError(t, err)
		out <- m
	}()
	require.Eventually(t, func() bool {
		return h.source.count("dashboard") == n
	}, time.Second, 5*time.Millisecond)
	return out
}

func TestClearDuringBuildDoesNotStoreStaleSnapshot(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{"users_count": 1.0}
	h.source.gate = make(chan struct{})

	first := startBuild(t, h, 1)
	require.NoError(t, h.agg.ClearCache(context.Background()))
	close(h.source.gate)
	require.NotNil(t, <-first)

	_, err := h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)
	assert.Equal(t, 2, h.source.count("dashboard"))

	_, err = h.agg.GetMetrics(context.Background(), models.RoleAdmin, "today")
	require.NoError(t, err)
	assert.Equal(t, 2, h.source.count("dashboard"))
}

func TestCallersAfterClearStartANewBuild(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{"users_count": 1.0}
	h.source.gate = make(chan struct{})

	first := startBuild(t, h, 1)
	require.NoError(t, h.agg.ClearCache(context.Background()))
	second := startBuild(t, h, 2)

	close(h.source.gate)
	require.NotNil(t, <-first)
	require.NotNil(t, <-second)
	assert.Equal(t, 2, h.source.count("dashboard"))
}

func TestInvalidateDropsOneSnapshot(t *testing.T) {
	h := newHarness(t)
	h.source.dashboards[models.RoleAdmin] = map[string]any{"users_count": 1.0}
	ctx := context.Background()

	for _, period := range []string{"today", "week"} {
		_, err := h.agg.GetMetrics(ctx, models.RoleAdmin, period)
		require.NoError(t, err)
	}
	require.NoError(t, h.agg.Invalidate(ctx, models.RoleAdmin, "today"))

	for _, period := range []string{"today", "week"} {
		_, err := h.agg.GetMetrics(ctx, models.RoleAdmin, period)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, h.source.count("dashboard"))
}
