package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/pulse/internal/config"
	"goflare.io/pulse/internal/models"
	"goflare.io/pulse/internal/telemetry"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *telemetry.Collector) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg, err := config.NewConfig(
		config.WithLogger(zap.NewNop()),
		func(c *config.Config) error {
			c.API.BaseURL = srv.URL + "/api"
			c.API.Token = "t0ken"
			c.ResilienceConfig.MaxRetries = 3
			c.ResilienceConfig.InitialInterval = time.Millisecond
			c.ResilienceConfig.MaxInterval = 2 * time.Millisecond
			return nil
		},
	)
	require.NoError(t, err)

	collector, err := telemetry.NewCollector("test", nil)
	require.NoError(t, err)

	client, err := NewClient(cfg, collector)
	require.NoError(t, err)
	return client, collector
}

func TestDashboard(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/dashboard/entrepreneur/", r.URL.Path)
		assert.Equal(t, "month", r.URL.Query().Get("period"))
		assert.Equal(t, "Bearer t0ken", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"products_count": 12, "totalRevenue": 300.5}`))
	}))

	obj, err := client.Dashboard(context.Background(), models.RoleEntrepreneur, "month")
	require.NoError(t, err)
	assert.Equal(t, 12.0, obj["products_count"])
}

func TestDashboardRejectsNonObject(t *testing.T) {
	for name, body := range map[string]string{"array": `[1,2]`, "null": `null`, "string": `"ok"`, "broken": `{"a":`} {
		t.Run(name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))

			_, err := client.Dashboard(context.Background(), models.RoleAdmin, "today")
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestListAcceptsBothShapes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/users/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 1}, {"id": 2}, 3]`))
	})
	mux.HandleFunc("/api/sales/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"count": 1, "results": [{"id": 9, "total": 10}]}`))
	})
	mux.HandleFunc("/api/companies/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"detail": "nope"}`))
	})
	client, _ := newTestClient(t, mux)

	users, err := client.List(context.Background(), Users)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	sales, err := client.List(context.Background(), Sales)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, 10.0, sales[0]["total"])

	_, err = client.List(context.Background(), Companies)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, collector := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := client.List(context.Background(), Users)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualValues(t, 1, calls.Load())
	assert.EqualValues(t, 1, collector.Snapshot().RemoteErrors)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))

	obj, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", obj["status"])
	assert.EqualValues(t, 3, calls.Load())
}

func TestStatusError(t *testing.T) {
	assert.True(t, (&StatusError{Code: http.StatusServiceUnavailable}).Temporary())
	assert.True(t, (&StatusError{Code: http.StatusTooManyRequests}).Temporary())
	assert.False(t, (&StatusError{Code: http.StatusUnauthorized}).Temporary())
	assert.ErrorIs(t, &StatusError{Code: http.StatusNotFound}, ErrNotFound)
	assert.NotErrorIs(t, &StatusError{Code: http.StatusInternalServerError}, ErrUnauthorized)
}
