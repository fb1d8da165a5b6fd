package restaurant

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant/errors"
)

func TestMenuItemInput_Validate(t *testing.T) {
	price := decimal.RequireFromString("12.50")

	tests := []struct {
		name    string
		input   MenuItemInput
		wantErr bool
	}{
		{"合法输入", MenuItemInput{Name: "Ramen", Price: price, PrepMinutes: 10}, false},
		{"免费菜品", MenuItemInput{Name: "Water", Price: decimal.Zero}, false},
		{"名称为空", MenuItemInput{Name: "  ", Price: price}, true},
		{"名称过长", MenuItemInput{Name: strings.Repeat("a", MaxNameLength+1), Price: price}, true},
		{"名称恰好100字符", MenuItemInput{Name: strings.Repeat("面", MaxNameLength), Price: price}, false},
		{"负价格", MenuItemInput{Name: "Soup", Price: decimal.RequireFromString("-0.01")}, true},
		{"三位小数", MenuItemInput{Name: "Soup", Price: decimal.RequireFromString("1.005")}, true},
		{"制作时间超限", MenuItemInput{Name: "Soup", Price: price, PrepMinutes: MaxPrepMinutes + 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMenuItemInput_DefaultsToAvailable(t *testing.T) {
	in := MenuItemInput{Name: "Tea"}
	assert.True(t, in.IsAvailable())

	no := false
	in.Available = &no
	assert.False(t, in.IsAvailable())
}

func TestMenuItemUpdate(t *testing.T) {
	empty := MenuItemUpdate{}
	assert.True(t, errors.IsValidation(empty.Validate()))

	name := "  Udon  "
	price := decimal.RequireFromString("9.90")
	u := MenuItemUpdate{Name: &name, Price: &price}
	u.Normalize()
	require.NoError(t, u.Validate())

	item := MenuItem{Name: "Ramen", Price: decimal.RequireFromString("12"), Available: true, PrepMinutes: 10}
	u.Apply(&item)
	assert.Equal(t, "Udon", item.Name)
	assert.True(t, item.Price.Equal(price))
	assert.True(t, item.Available)
	assert.Equal(t, 10, item.PrepMinutes)
}

func TestTableStatus_Transitions(t *testing.T) {
	assert.True(t, TableFree.CanSetManually(TableReserved))
	assert.True(t, TableReserved.CanSetManually(TableFree))
	assert.False(t, TableFree.CanSetManually(TableOccupied))
	assert.False(t, TableOccupied.CanSetManually(TableFree))
	assert.False(t, TableFree.CanSetManually(TableFree))

	assert.True(t, TableFree.AcceptsOrder())
	assert.True(t, TableReserved.AcceptsOrder())
	assert.False(t, TableOccupied.AcceptsOrder())

	_, err := ParseTableStatus("broken")
	assert.True(t, errors.IsValidation(err))
}

func TestTableInput_Validate(t *testing.T) {
	assert.NoError(t, (&TableInput{Code: "T-01", Capacity: 4}).Validate())
	assert.Error(t, (&TableInput{Code: "", Capacity: 4}).Validate())
	assert.Error(t, (&TableInput{Code: "T-01", Capacity: 0}).Validate())
	assert.Error(t, (&TableInput{Code: "T-01", Capacity: MaxTableCapacity + 1}).Validate())
}

func TestOrderStatus_Machine(t *testing.T) {
	allowed := map[[2]OrderStatus]bool{
		{OrderOpen, OrderInProgress}:      true,
		{OrderInProgress, OrderServed}:    true,
		{OrderServed, OrderPaid}:          true,
		{OrderOpen, OrderCancelled}:       true,
		{OrderInProgress, OrderCancelled}: true,
	}

	all := []OrderStatus{OrderOpen, OrderInProgress, OrderServed, OrderPaid, OrderCancelled}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]OrderStatus{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.True(t, OrderPaid.IsTerminal())
	assert.True(t, OrderCancelled.IsTerminal())
	assert.True(t, OrderServed.IsActive())
	assert.Len(t, ActiveOrderStatuses(), 3)
}

func TestOrderInput_MergesDuplicateItems(t *testing.T) {
	in := OrderInput{TableID: 1, Lines: []LineInput{
		{MenuItemID: 2, Quantity: 1},
		{MenuItemID: 1, Quantity: 2},
		{MenuItemID: 2, Quantity: 3},
	}}
	require.NoError(t, in.Validate())
	assert.Equal(t, []LineInput{{MenuItemID: 2, Quantity: 4}, {MenuItemID: 1, Quantity: 2}}, in.Lines)
	assert.Equal(t, []int64{1, 2}, MenuItemIDs(in.Lines))
}

func TestOrderInput_Validate(t *testing.T) {
	cases := map[string]OrderInput{
		"缺少餐桌":     {Lines: []LineInput{{MenuItemID: 1, Quantity: 1}}},
		"没有菜品":     {TableID: 1},
		"数量为零":     {TableID: 1, Lines: []LineInput{{MenuItemID: 1, Quantity: 0}}},
		"数量为负":     {TableID: 1, Lines: []LineInput{{MenuItemID: 1, Quantity: -2}}},
		"菜品ID无效":   {TableID: 1, Lines: []LineInput{{MenuItemID: 0, Quantity: 1}}},
		"合并后数量超限": {TableID: 1, Lines: []LineInput{{MenuItemID: 1, Quantity: 60}, {MenuItemID: 1, Quantity: 60}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			err := in.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestOrder_Recalculate(t *testing.T) {
	o := Order{Lines: []OrderLine{
		{MenuItemID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("12.50"), PrepMinutes: 10},
		{MenuItemID: 2, Quantity: 3, UnitPrice: decimal.RequireFromString("0.10"), PrepMinutes: 1},
	}}
	o.Recalculate()

	assert.True(t, o.Total.Equal(decimal.RequireFromString("25.30")), o.Total.String())
	assert.Equal(t, 23, o.TotalPrepMinutes)

	line, ok := o.Line(2)
	require.True(t, ok)
	assert.Equal(t, 3, line.Quantity)
	_, ok = o.Line(9)
	assert.False(t, ok)
}

func TestNewOrderEvent(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o := &Order{ID: 7, TableID: 3, Status: OrderInProgress, Total: decimal.RequireFromString("8")}
	ev := NewOrderEvent(EventOrderStatusChanged, o, OrderOpen, nil, at)

	assert.Equal(t, EventOrderStatusChanged, ev.EventType())
	assert.Equal(t, int64(7), ev.AggregateID())
	assert.Equal(t, AggregateOrder, ev.AggregateType())
	assert.Equal(t, OrderOpen, ev.PrevStatus)
	assert.Empty(t, ev.Lines)
}
