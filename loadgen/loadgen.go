// Package loadgen 对餐厅 HTTP 接口施加并发负载
//
// 准备阶段创建餐桌与菜品；之后每个 worker 循环执行：下单 → 查看餐桌菜品 → 查看单个菜品 →
// 退一个菜 → 推进到 paid（或直接取消）。503 响应按同一个幂等键重试。
package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"restaurant/errors"
	"restaurant/logging"
)

// Config 压测配置
type Config struct {
	BaseURL string

	Tables     int
	MenuItems  int
	Workers    int
	Iterations int // 每个 worker 的下单轮数

	// CancelRatio 取消订单（而不是结账）的比例
	CancelRatio float64

	MaxRetries int
	RetryDelay time.Duration
	Seed       uint64

	Client *http.Client
	Logger logging.Logger
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://127.0.0.1:3030",
		Tables:      5,
		MenuItems:   5,
		Workers:     8,
		Iterations:  10,
		CancelRatio: 0.2,
		MaxRetries:  3,
		RetryDelay:  20 * time.Millisecond,
	}
}

// Runner 压测执行器
type Runner struct {
	cfg   Config
	log   logging.Logger
	stats *collector

	tables []int64
	items  []int64
}

// New 创建执行器；未设置的字段取默认值
func New(cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Tables <= 0 {
		cfg.Tables = def.Tables
	}
	if cfg.MenuItems <= 0 {
		cfg.MenuItems = def.MenuItems
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("loadgen")
	}
	return &Runner{cfg: cfg, log: cfg.Logger, stats: newCollector()}
}

type entity struct {
	ID int64 `json:"id"`
}

// Setup 创建餐桌与菜品；已存在的按 code / name 复用
func (r *Runner) Setup(ctx context.Context) error {
	existingTables, err := r.index(ctx, "/api/v1/tables", "code")
	if err != nil {
		return err
	}
	for i := 1; i <= r.cfg.Tables; i++ {
		code := fmt.Sprintf("T-%02d", i)
		id, err := r.ensure(ctx, "/api/v1/tables", existingTables[code], map[string]any{"code": code, "capacity": 4})
		if err != nil {
			return err
		}
		r.tables = append(r.tables, id)
	}

	existingItems, err := r.index(ctx, "/api/v1/menu-items", "name")
	if err != nil {
		return err
	}
	for i := 1; i <= r.cfg.MenuItems; i++ {
		name := fmt.Sprintf("Menu-%02d", i)
		price := decimal.NewFromInt(int64(5 + i)).Add(decimal.New(50, -2))
		id, err := r.ensure(ctx, "/api/v1/menu-items", existingItems[name], map[string]any{
			"name":         name,
			"price":        price,
			"prep_minutes": 5 + i%4*5,
		})
		if err != nil {
			return err
		}
		r.items = append(r.items, id)
	}

	r.log.Info(ctx, "load generator ready",
		logging.Int("tables", len(r.tables)),
		logging.Int("menu_items", len(r.items)))
	return nil
}

// index 列出已有实体，按 key 字段建立索引
func (r *Runner) index(ctx context.Context, path, key string) (map[string]int64, error) {
	res, err := r.call(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	if res.status != http.StatusOK {
		return nil, errors.NewErrorf(errors.ErrCodeServiceUnavailable, "GET %s returned %d", path, res.status)
	}
	var rows []map[string]any
	if err := json.Unmarshal(res.data, &rows); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "unexpected list body")
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		name, _ := row[key].(string)
		id, _ := row["id"].(float64)
		out[name] = int64(id)
	}
	return out, nil
}

func (r *Runner) ensure(ctx context.Context, path string, existing int64, body map[string]any) (int64, error) {
	if existing > 0 {
		return existing, nil
	}
	res, err := r.call(ctx, http.MethodPost, path, body, uuid.NewString())
	if err != nil {
		return 0, err
	}
	if res.status != http.StatusCreated {
		return 0, errors.NewErrorf(errors.ErrCodeServiceUnavailable, "POST %s returned %d (%s)", path, res.status, res.code)
	}
	var e entity
	if err := json.Unmarshal(res.data, &e); err != nil {
		return 0, errors.WrapError(err, errors.ErrCodeInternal, "unexpected create body")
	}
	return e.ID, nil
}

// Run 启动 worker 并等待全部完成
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if len(r.tables) == 0 || len(r.items) == 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "Setup must succeed before Run")
	}

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < r.cfg.Workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(r.cfg.Seed, uint64(w)))
			for i := 0; i < r.cfg.Iterations; i++ {
				if ctx.Err() != nil {
					return
				}
				if err := r.iteration(ctx, rng); err != nil {
					r.log.Warn(ctx, "iteration aborted", logging.Int("worker", w), logging.Error(err))
				}
			}
		}(w)
	}
	wg.Wait()

	summary := r.stats.summary(time.Since(start))
	return summary, ctx.Err()
}

func (r *Runner) iteration(ctx context.Context, rng *rand.Rand) error {
	table := r.tables[rng.IntN(len(r.tables))]
	picked := r.pickItems(rng, 1+rng.IntN(3))

	lines := make([]map[string]any, 0, len(picked))
	for _, id := range picked {
		lines = append(lines, map[string]any{"menu_item_id": id, "quantity": 1 + rng.IntN(3)})
	}
	res, err := r.call(ctx, http.MethodPost, "/api/v1/orders", map[string]any{"table_id": table, "lines": lines}, uuid.NewString())
	if err != nil {
		return err
	}
	switch res.status {
	case http.StatusCreated:
		r.stats.add(func(c *collector) { c.orders++ })
	case http.StatusConflict:
		r.stats.add(func(c *collector) { c.conflicts++ })
		return nil
	default:
		return errors.NewErrorf(errors.ErrCodeServiceUnavailable, "create order returned %d (%s)", res.status, res.code)
	}
	var order entity
	if err := json.Unmarshal(res.data, &order); err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "unexpected order body")
	}

	if _, err := r.call(ctx, http.MethodGet, fmt.Sprintf("/api/v1/tables/%d/items", table), nil, ""); err != nil {
		return err
	}
	if _, err := r.call(ctx, http.MethodGet, fmt.Sprintf("/api/v1/tables/%d/items/%d", table, picked[0]), nil, ""); err != nil {
		return err
	}
	// 只剩一个菜时退菜会取消订单，保留给后面的状态推进
	if len(picked) > 1 {
		path := fmt.Sprintf("/api/v1/orders/%d/items/%d", order.ID, picked[len(picked)-1])
		if _, err := r.call(ctx, http.MethodDelete, path, nil, uuid.NewString()); err != nil {
			return err
		}
	}

	steps := []string{"in_progress", "served", "paid"}
	if rng.Float64() < r.cfg.CancelRatio {
		steps = []string{"cancelled"}
	}
	for _, status := range steps {
		path := fmt.Sprintf("/api/v1/orders/%d/status", order.ID)
		res, err := r.call(ctx, http.MethodPatch, path, map[string]any{"status": status}, uuid.NewString())
		if err != nil {
			return err
		}
		if res.status != http.StatusOK {
			return errors.NewErrorf(errors.ErrCodeConflict, "order %d to %s returned %d (%s)", order.ID, status, res.status, res.code)
		}
	}
	return nil
}

func (r *Runner) pickItems(rng *rand.Rand, n int) []int64 {
	if n > len(r.items) {
		n = len(r.items)
	}
	perm := rng.Perm(len(r.items))
	out := make([]int64, 0, n)
	for _, i := range perm[:n] {
		out = append(out, r.items[i])
	}
	return out
}
