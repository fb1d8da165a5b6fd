package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "restaurant/data/db"
	"restaurant/domain"
	"restaurant/domain/restaurant"
	"restaurant/errors"
	"restaurant/eventing/outbox"
	"restaurant/logging"
)

func lines(pairs ...int64) []restaurant.LineInput {
	out := make([]restaurant.LineInput, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, restaurant.LineInput{MenuItemID: pairs[i], Quantity: int(pairs[i+1])})
	}
	return out
}

// TestOrder_RoundTripKeepsPriceSnapshot 订单行保留下单时的单价，改价后不变
func TestOrder_RoundTripKeepsPriceSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tbl := f.table(t, "T-01")
	soup := f.menuItem(t, "Soup", "4.25", 5)
	steak := f.menuItem(t, "Steak", "21.00", 20)
	wine := f.menuItem(t, "Wine", "7.80", 0)

	created, err := f.repos.Orders.Create(ctx, restaurant.OrderInput{
		TableID: tbl.ID,
		Lines:   lines(soup.ID, 2, steak.ID, 1, wine.ID, 3),
	})
	require.NoError(t, err)
	require.Len(t, created.Lines, 3)
	assert.Equal(t, restaurant.OrderOpen, created.Status)
	assert.Equal(t, "52.9", created.Total.String())
	assert.Equal(t, 30, created.TotalPrepMinutes)

	newPrice := dec("99.99")
	_, err = f.repos.Menu.Update(ctx, steak.ID, restaurant.MenuItemUpdate{Price: &newPrice})
	require.NoError(t, err)

	got, err := f.repos.Orders.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 3)
	for i, line := range got.Lines {
		want := created.Lines[i]
		assert.Equal(t, want.ID, line.ID)
		assert.Equal(t, want.MenuItemID, line.MenuItemID)
		assert.Equal(t, want.ItemName, line.ItemName)
		assert.Equal(t, want.Quantity, line.Quantity)
		assert.True(t, want.UnitPrice.Equal(line.UnitPrice), "line %d: %s != %s", i, want.UnitPrice, line.UnitPrice)
	}
	assert.True(t, created.Total.Equal(got.Total))
	assert.True(t, created.OrderedAt.Equal(got.OrderedAt))

	tblNow, err := f.repos.Tables.GetByID(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, restaurant.TableOccupied, tblNow.Status)
}

// TestOrder_MergesRepeatedItems 重复的菜品合并为一行
func TestOrder_MergesRepeatedItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tbl := f.table(t, "T-01")
	tea := f.menuItem(t, "Tea", "2.00", 1)
	cake := f.menuItem(t, "Cake", "5.00", 2)

	o, err := f.repos.Orders.Create(ctx, restaurant.OrderInput{
		TableID: tbl.ID,
		Lines:   lines(tea.ID, 1, cake.ID, 1, tea.ID, 2),
	})
	require.NoError(t, err)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, tea.ID, o.Lines[0].MenuItemID)
	assert.Equal(t, 3, o.Lines[0].Quantity)
	assert.Equal(t, 2, f.count(t, `SELECT COUNT(*) FROM order_lines WHERE order_id = ?`, o.ID))
}

// TestOrder_CreateRejections 各类拒绝原因及其错误码
func TestOrder_CreateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tbl := f.table(t, "T-01")
	tea := f.menuItem(t, "Tea", "2.00", 1)
	off := f.menuItem(t, "Seasonal", "9.00", 5)
	_, err := f.repos.Menu.SetAvailability(ctx, off.ID, false)
	require.NoError(t, err)
	gone := f.menuItem(t, "Gone", "1.00", 1)
	require.NoError(t, f.repos.Menu.Delete(ctx, gone.ID))

	tests := []struct {
		name  string
		input restaurant.OrderInput
		check func(error) bool
	}{
		{"没有菜品", restaurant.OrderInput{TableID: tbl.ID}, errors.IsValidation},
		{"数量为零", restaurant.OrderInput{TableID: tbl.ID, Lines: lines(tea.ID, 0)}, errors.IsValidation},
		{"合并后超过上限", restaurant.OrderInput{TableID: tbl.ID, Lines: lines(tea.ID, 60, tea.ID, 60)}, errors.IsValidation},
		{"餐桌不存在", restaurant.OrderInput{TableID: 999, Lines: lines(tea.ID, 1)}, errors.IsNotFound},
		{"菜品不存在", restaurant.OrderInput{TableID: tbl.ID, Lines: lines(12345, 1)}, errors.IsNotFound},
		{"菜品已删除", restaurant.OrderInput{TableID: tbl.ID, Lines: lines(gone.ID, 1)}, errors.IsNotFound},
		{"菜品已下架", restaurant.OrderInput{TableID: tbl.ID, Lines: lines(tea.ID, 1, off.ID, 1)}, errors.IsConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.repos.Orders.Create(ctx, tt.input)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM orders`))
	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM order_lines`))
	tblNow, err := f.repos.Tables.GetByID(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, restaurant.TableFree, tblNow.Status)
}

// TestOrder_OneActiveOrderPerTable 餐桌在订单结束前不能再次开单
func TestOrder_OneActiveOrderPerTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tbl := f.table(t, "T-01")
	tea := f.menuItem(t, "Tea", "2.00", 1)
	in := restaurant.OrderInput{TableID: tbl.ID, Lines: lines(tea.ID, 1)}

	first, err := f.repos.Orders.Create(ctx, in)
	require.NoError(t, err)

	_, err = f.repos.Orders.Create(ctx, in)
	assert.True(t, errors.IsConflict(err), "got %v", err)

	for _, to := range []restaurant.OrderStatus{restaurant.OrderInProgress, restaurant.OrderServed, restaurant.OrderPaid} {
		_, err = f.repos.Orders.UpdateStatus(ctx, first.ID, to)
		require.NoError(t, err, "-> %s", to)
	}

	paid, err := f.repos.Orders.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, restaurant.OrderPaid, paid.Status)
	require.NotNil(t, paid.ClosedAt)

	tblNow, err := f.repos.Tables.GetByID(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, restaurant.TableFree, tblNow.Status)

	second, err := f.repos.Orders.Create(ctx, in)
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	// 预订的餐桌也可以开单
	reserved := f.table(t, "T-02")
	_, err = f.repos.Tables.UpdateStatus(ctx, reserved.ID, restaurant.TableReserved)
	require.NoError(t, err)
	_, err = f.repos.Orders.Create(ctx, restaurant.OrderInput{TableID: reserved.ID, Lines: lines(tea.ID, 1)})
	require.NoError(t, err)
}

// TestOrder_StatusTransitions 状态机之外的迁移返回 VALIDATION
func TestOrder_StatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tea := f.menuItem(t, "Tea", "2.00", 1)

	newOrder := func(code string) *restaurant.Order {
		tbl := f.table(t, code)
		o, err := f.repos.Orders.Create(ctx, restaurant.OrderInput{TableID: tbl.ID, Lines: lines(tea.ID, 1)})
		require.NoError(t, err)
		return o
	}

	o := newOrder("T-01")
	_, err := f.repos.Orders.UpdateStatus(ctx, o.ID, restaurant.OrderPaid)
	assert.True(t, errors.IsValidation(err), "open -> paid")
	_, err = f.repos.Orders.UpdateStatus(ctx, o.ID, "eaten")
	assert.True(t, errors.IsValidation(err), "未知状态")
	_, err = f.repos.Orders.UpdateStatus(ctx, 999, restaurant.OrderInProgress)
	assert.True(t, errors.IsNotFound(err))

	_, err = f.repos.Orders.UpdateStatus(ctx, o.ID, restaurant.OrderInProgress)
	require.NoError(t, err)
	_, err = f.repos.Orders.UpdateStatus(ctx, o.ID, restaurant.OrderServed)
	require.NoError(t, err)
	_, err = f.repos.Orders.UpdateStatus(ctx, o.ID, restaurant.OrderCancelled)
	assert.True(t, errors.IsValidation(err), "served -> cancelled")

	c := newOrder("T-02")
	cancelled, err := f.repos.Orders.UpdateStatus(ctx, c.ID, restaurant.OrderCancelled)
	require.NoError(t, err)
	assert.Equal(t, restaurant.OrderCancelled, cancelled.Status)
	_, err = f.repos.Orders.UpdateStatus(ctx, c.ID, restaurant.OrderOpen)
	assert.True(t, errors.IsValidation(err), "终态不能离开")

	// 终态订单仍可读取
	got, err := f.repos.Orders.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Lines, 1)
}

// TestOrder_AddLinesAndRemoveItem 加菜、减菜，最后一行删除后订单取消
func TestOrder_AddLinesAndRemoveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tbl := f.table(t, "T-01")
	tea := f.menuItem(t, "Tea", "2.00", 1)
	cake := f.menuItem(t, "Cake", "5.00", 2)

	o, err := f.repos.Orders.Create(ctx, restaurant.OrderInput{TableID: tbl.ID, Lines: lines(tea.ID, 1)})
	require.NoError(t, err)

	// 已有菜品改价后加菜，沿用原快照
	newPrice := dec("3.00")
	_, err = f.repos.Menu.Update(ctx, tea.ID, restaurant.MenuItemUpdate{Price: &newPrice})
	require.NoError(t, err)

	o, err = f.repos.Orders.AddLines(ctx, o.ID, lines(tea.ID, 1, cake.ID, 2))
	require.NoError(t, err)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, 2, o.Lines[0].Quantity)
	assert.Equal(t, "2", o.Lines[0].UnitPrice.String())
	assert.Equal(t, "14", o.Total.String())

	_, err = f.repos.Orders.AddLines(ctx, o.ID, lines(tea.ID, 99))
	assert.True(t, errors.IsValidation(err), "超过单行上限")

	items, err := f.repos.Orders.TableItems(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	item, err := f.repos.Orders.TableItem(ctx, tbl.ID, cake.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Quantity)

	o, err = f.repos.Orders.RemoveItem(ctx, o.ID, cake.ID)
	require.NoError(t, err)
	line, ok := o.Line(cake.ID)
	require.True(t, ok)
	assert.Equal(t, 1, line.Quantity)

	_, err = f.repos.Orders.RemoveItem(ctx, o.ID, 777)
	assert.True(t, errors.IsNotFound(err))

	o, err = f.repos.Orders.RemoveItem(ctx, o.ID, cake.ID)
	require.NoError(t, err)
	assert.Len(t, o.Lines, 1)
	o, err = f.repos.Orders.RemoveItem(ctx, o.ID, tea.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, o.Lines[0].Quantity)
	assert.Equal(t, restaurant.OrderOpen, o.Status)

	o, err = f.repos.Orders.RemoveItem(ctx, o.ID, tea.ID)
	require.NoError(t, err)
	assert.Empty(t, o.Lines)
	assert.Equal(t, restaurant.OrderCancelled, o.Status)
	require.NotNil(t, o.ClosedAt)

	tblNow, err := f.repos.Tables.GetByID(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, restaurant.TableFree, tblNow.Status)

	items, err = f.repos.Orders.TableItems(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = f.repos.Orders.TableItem(ctx, tbl.ID, tea.ID)
	assert.True(t, errors.IsNotFound(err))
	_, err = f.repos.Orders.ActiveForTable(ctx, tbl.ID)
	assert.True(t, errors.IsNotFound(err))
	_, err = f.repos.Orders.TableItems(ctx, 999)
	assert.True(t, errors.IsNotFound(err))

	_, err = f.repos.Orders.AddLines(ctx, o.ID, lines(tea.ID, 1))
	assert.True(t, errors.IsConflict(err), "已取消的订单不能加菜")
}

// TestOrder_EventsWrittenWithChanges 每次变更在同一事务写入 outbox
func TestOrder_EventsWrittenWithChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tbl := f.table(t, "T-01")
	tea := f.menuItem(t, "Tea", "2.00", 1)

	o, err := f.repos.Orders.Create(ctx, restaurant.OrderInput{TableID: tbl.ID, Lines: lines(tea.ID, 2)})
	require.NoError(t, err)
	_, err = f.repos.Orders.AddLines(ctx, o.ID, lines(tea.ID, 1))
	require.NoError(t, err)
	_, err = f.repos.Orders.UpdateStatus(ctx, o.ID, restaurant.OrderInProgress)
	require.NoError(t, err)

	entries, err := f.outbox.GetPendingEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	types := []string{entries[0].EventType, entries[1].EventType, entries[2].EventType}
	assert.Equal(t, []string{
		restaurant.EventOrderCreated,
		restaurant.EventOrderLinesAdded,
		restaurant.EventOrderStatusChanged,
	}, types)

	var added restaurant.OrderEvent
	require.NoError(t, json.Unmarshal([]byte(entries[1].EventData), &added))
	require.Len(t, added.Lines, 1)
	assert.Equal(t, 1, added.Lines[0].Quantity, "事件只包含本次追加的数量")

	var changed restaurant.OrderEvent
	require.NoError(t, json.Unmarshal([]byte(entries[2].EventData), &changed))
	assert.Equal(t, restaurant.OrderOpen, changed.PrevStatus)
	assert.Equal(t, restaurant.OrderInProgress, changed.Status)
	for _, e := range entries {
		assert.Equal(t, o.ID, e.AggregateID)
	}
}

// TestOrder_FailureInjectionLeavesNothing 提交前失败时不留下任何部分写入
func TestOrder_FailureInjectionLeavesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tbl := f.table(t, "T-01")
	tea := f.menuItem(t, "Tea", "2.00", 1)
	cake := f.menuItem(t, "Cake", "5.00", 2)

	f.failCommit.Store(true)
	_, err := f.repos.Orders.Create(ctx, restaurant.OrderInput{TableID: tbl.ID, Lines: lines(tea.ID, 1, cake.ID, 1)})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err), "got %v", err)

	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM orders`))
	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM order_lines`))
	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM event_outbox`))
	orders, err := f.repos.Orders.List(ctx, restaurant.OrderFilter{TableID: tbl.ID})
	require.NoError(t, err)
	assert.Empty(t, orders)
	tblNow, err := f.repos.Tables.GetByID(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, restaurant.TableFree, tblNow.Status)

	// 事件写入失败同样整体回滚
	failing := New(f.store, WithEvents(failingAppender{}), WithLogger(logging.NewNoopLogger()))
	_, err = failing.Orders.Create(ctx, restaurant.OrderInput{TableID: tbl.ID, Lines: lines(tea.ID, 1)})
	require.Error(t, err)
	assert.Equal(t, 0, f.count(t, `SELECT COUNT(*) FROM order_lines`))

	// 注入解除后正常提交，读到完整订单
	o, err := f.repos.Orders.Create(ctx, restaurant.OrderInput{TableID: tbl.ID, Lines: lines(tea.ID, 1, cake.ID, 1)})
	require.NoError(t, err)
	got, err := f.repos.Orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Lines, 2)
}

type failingAppender struct{}

func (failingAppender) Append(ctx context.Context, tx core.ITransaction, events ...domain.IDomainEvent) error {
	return errors.NewError(errors.ErrCodeInternal, "outbox unavailable")
}

// TestOrder_ConcurrentCreation 50 个并发下单请求分布在 10 张餐桌上
func TestOrder_ConcurrentCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tea := f.menuItem(t, "Tea", "2.00", 1)

	const tables, perTable = 10, 5
	ids := make([]int64, tables)
	for i := range ids {
		ids[i] = f.table(t, fmt.Sprintf("T-%02d", i+1)).ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded = map[int64]int{}
		conflicts int
		others    []error
	)
	for i := 0; i < tables*perTable; i++ {
		wg.Add(1)
		go func(tableID int64) {
			defer wg.Done()
			_, err := f.repos.Orders.Create(ctx, restaurant.OrderInput{TableID: tableID, Lines: lines(tea.ID, 1)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded[tableID]++
			case errors.IsConflict(err):
				conflicts++
			default:
				others = append(others, err)
			}
		}(ids[i%tables])
	}
	wg.Wait()

	require.Empty(t, others)
	assert.Len(t, succeeded, tables)
	for id, n := range succeeded {
		assert.Equal(t, 1, n, "table %d", id)
	}
	assert.Equal(t, tables*(perTable-1), conflicts)

	state, err := f.repos.Orders.State(ctx)
	require.NoError(t, err)
	assert.Len(t, state.ActiveOrders, tables)
	for _, tbl := range state.Tables {
		assert.Equal(t, restaurant.TableOccupied, tbl.Status)
	}
	assert.Equal(t, tables, f.count(t, `SELECT COUNT(*) FROM order_lines`))

	entries, err := f.outbox.GetPendingEntries(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, entries, tables)
}

// TestOrder_ListFilters 按状态与餐桌过滤
func TestOrder_ListFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tea := f.menuItem(t, "Tea", "2.00", 1)
	t1 := f.table(t, "T-01")
	t2 := f.table(t, "T-02")

	o1, err := f.repos.Orders.Create(ctx, restaurant.OrderInput{TableID: t1.ID, Lines: lines(tea.ID, 1)})
	require.NoError(t, err)
	_, err = f.repos.Orders.Create(ctx, restaurant.OrderInput{TableID: t2.ID, Lines: lines(tea.ID, 2)})
	require.NoError(t, err)
	_, err = f.repos.Orders.UpdateStatus(ctx, o1.ID, restaurant.OrderCancelled)
	require.NoError(t, err)

	all, err := f.repos.Orders.List(ctx, restaurant.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Len(t, all[1].Lines, 1)
	assert.Equal(t, 2, all[1].Lines[0].Quantity)

	open, err := f.repos.Orders.List(ctx, restaurant.OrderFilter{Status: restaurant.OrderOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, t2.ID, open[0].TableID)

	byTable, err := f.repos.Orders.List(ctx, restaurant.OrderFilter{TableID: t1.ID})
	require.NoError(t, err)
	require.Len(t, byTable, 1)
	assert.Equal(t, restaurant.OrderCancelled, byTable[0].Status)

	_, err = f.repos.Orders.List(ctx, restaurant.OrderFilter{Status: "lost"})
	assert.True(t, errors.IsValidation(err))

	active, err := f.repos.Orders.ActiveForTable(ctx, t2.ID)
	require.NoError(t, err)
	assert.Equal(t, restaurant.OrderOpen, active.Status)
}

var _ EventAppender = (*outbox.SQLOutboxRepository)(nil)
