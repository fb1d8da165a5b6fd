package restaurant

import (
	"time"

	"github.com/shopspring/decimal"

	"restaurant/domain"
)

// 厨房事件类型
const (
	EventOrderCreated       = "order.created"
	EventOrderLinesAdded    = "order.lines_added"
	EventOrderItemRemoved   = "order.item_removed"
	EventOrderStatusChanged = "order.status_changed"
)

const AggregateOrder = "order"

// OrderEventTypes 返回全部厨房事件类型
func OrderEventTypes() []string {
	return []string{EventOrderCreated, EventOrderLinesAdded, EventOrderItemRemoved, EventOrderStatusChanged}
}

// TicketLine 厨房小票上的一行
type TicketLine struct {
	MenuItemID  int64  `json:"menu_item_id"`
	ItemName    string `json:"item_name"`
	Quantity    int    `json:"quantity"`
	PrepMinutes int    `json:"prep_minutes"`
}

// OrderEvent 订单变更事件，随订单写入同一事务的 outbox
type OrderEvent struct {
	Type       string          `json:"type"`
	OrderID    int64           `json:"order_id"`
	TableID    int64           `json:"table_id"`
	Status     OrderStatus     `json:"status"`
	PrevStatus OrderStatus     `json:"prev_status,omitempty"`
	Lines      []TicketLine    `json:"lines,omitempty"`
	Total      decimal.Decimal `json:"total"`
	OccurredAt time.Time       `json:"occurred_at"`
}

var _ domain.IDomainEvent = (*OrderEvent)(nil)

func (e *OrderEvent) EventType() string     { return e.Type }
func (e *OrderEvent) AggregateID() int64    { return e.OrderID }
func (e *OrderEvent) AggregateType() string { return AggregateOrder }

// NewOrderEvent 基于订单当前状态构造事件；lines 为本次变更涉及的行
func NewOrderEvent(eventType string, o *Order, prev OrderStatus, lines []OrderLine, at time.Time) *OrderEvent {
	ev := &OrderEvent{
		Type:       eventType,
		OrderID:    o.ID,
		TableID:    o.TableID,
		Status:     o.Status,
		PrevStatus: prev,
		Total:      o.Total,
		OccurredAt: at,
	}
	for _, l := range lines {
		ev.Lines = append(ev.Lines, TicketLine{
			MenuItemID:  l.MenuItemID,
			ItemName:    l.ItemName,
			Quantity:    l.Quantity,
			PrepMinutes: l.PrepMinutes,
		})
	}
	return ev
}

// State 餐厅状态快照：在同一次读事务中读取
type State struct {
	Tables       []Table    `json:"tables"`
	MenuItems    []MenuItem `json:"menu_items"`
	ActiveOrders []Order    `json:"active_orders"`
	ReadAt       time.Time  `json:"read_at"`
}
