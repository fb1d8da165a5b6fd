package loadgen

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant/app/api"
	"restaurant/app/dispatcher"
	"restaurant/data/db/serialized"
	"restaurant/data/repo"
	"restaurant/data/schema"
	core "restaurant/http"
	"restaurant/http/basic"
	"restaurant/logging"
)

func newBackend(t *testing.T) (*httptest.Server, *repo.Repositories) {
	t.Helper()
	cfg := serialized.DefaultConfig(filepath.Join(t.TempDir(), "restaurant.db"))
	cfg.Logger = logging.NewNoopLogger()
	store, err := serialized.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, schema.Ensure(context.Background(), store, schema.WithLogger(logging.NewNoopLogger())))

	repos := repo.New(store, repo.WithLogger(logging.NewNoopLogger()))
	dcfg := dispatcher.DefaultConfig()
	dcfg.Logger = logging.NewNoopLogger()
	srv := basic.NewHTTPServer(&core.WebConfig{})
	require.NoError(t, api.NewRouter(dispatcher.New(repos, dcfg), nil).Register(srv))

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, repos
}

func TestRunner_SetupAndRun(t *testing.T) {
	ts, repos := newBackend(t)
	ctx := context.Background()

	r := New(Config{
		BaseURL:    ts.URL,
		Tables:     3,
		MenuItems:  4,
		Workers:    4,
		Iterations: 5,
		Seed:       7,
		Client:     ts.Client(),
		Logger:     logging.NewNoopLogger(),
	})
	require.NoError(t, r.Setup(ctx))
	assert.Len(t, r.tables, 3)
	assert.Len(t, r.items, 4)

	summary, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.ServerErrors())
	assert.Zero(t, summary.Failures)
	assert.Equal(t, 20, summary.Orders+summary.Conflicts)
	assert.Positive(t, summary.Orders)
	assert.Equal(t, summary.Conflicts, summary.Statuses[http.StatusConflict])
	assert.LessOrEqual(t, summary.Min, summary.P50)
	assert.LessOrEqual(t, summary.P95, summary.Max)

	// 每轮都把订单推进到终态
	st, err := repos.Orders.State(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.ActiveOrders)

	var out bytes.Buffer
	summary.Write(&out)
	assert.Contains(t, out.String(), "orders:")
	assert.Contains(t, out.String(), "201=")
}

func TestRunner_SetupIsRepeatable(t *testing.T) {
	ts, _ := newBackend(t)
	ctx := context.Background()
	cfg := Config{BaseURL: ts.URL, Tables: 2, MenuItems: 2, Client: ts.Client(), Logger: logging.NewNoopLogger()}

	first := New(cfg)
	require.NoError(t, first.Setup(ctx))
	second := New(cfg)
	require.NoError(t, second.Setup(ctx))
	assert.Equal(t, first.tables, second.tables)
	assert.Equal(t, first.items, second.items)
}

// TestRunner_RetriesUnavailable 503 使用同一个幂等键重试
func TestRunner_RetriesUnavailable(t *testing.T) {
	var (
		calls atomic.Int32
		keys  = make(chan string, 4)
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		keys <- req.Header.Get(core.HeaderIdempotencyKey)
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"TRANSIENT_STORAGE","message":"busy"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":9}}`))
	}))
	defer ts.Close()

	r := New(Config{BaseURL: ts.URL, MaxRetries: 3, RetryDelay: time.Millisecond, Client: ts.Client(), Logger: logging.NewNoopLogger()})
	res, err := r.call(context.Background(), http.MethodPost, "/api/v1/tables", map[string]any{"code": "X"}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.status)
	assert.Equal(t, 2, res.retries)
	close(keys)
	for k := range keys {
		assert.Equal(t, "key-1", k)
	}

	s := r.stats.summary(time.Second)
	assert.Equal(t, 2, s.Statuses[http.StatusServiceUnavailable])
	assert.Equal(t, 2, s.Retries)
	var out bytes.Buffer
	s.Write(&out)
	assert.True(t, strings.Contains(out.String(), "retries:   2"), out.String())
}

func TestRunner_RunRequiresSetup(t *testing.T) {
	_, err := New(Config{Logger: logging.NewNoopLogger()}).Run(context.Background())
	require.Error(t, err)
}
