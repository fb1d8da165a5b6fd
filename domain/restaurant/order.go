package restaurant

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"restaurant/domain"
	"restaurant/errors"
	"restaurant/validation"
)

var (
	_ domain.IValidatable = (*OrderInput)(nil)
	_ domain.IValidatable = (*TableInput)(nil)
	_ domain.IValidatable = (*MenuItemInput)(nil)
	_ domain.IValidatable = (*MenuItemUpdate)(nil)
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderOpen       OrderStatus = "open"
	OrderInProgress OrderStatus = "in_progress"
	OrderServed     OrderStatus = "served"
	OrderPaid       OrderStatus = "paid"
	OrderCancelled  OrderStatus = "cancelled"
)

var orderStatuses = []string{
	string(OrderOpen), string(OrderInProgress), string(OrderServed), string(OrderPaid), string(OrderCancelled),
}

// 允许的状态迁移；served 之后只能结账
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderOpen:       {OrderInProgress, OrderCancelled},
	OrderInProgress: {OrderServed, OrderCancelled},
	OrderServed:     {OrderPaid},
}

// ActiveOrderStatuses 未结束的订单状态
func ActiveOrderStatuses() []OrderStatus {
	return []OrderStatus{OrderOpen, OrderInProgress, OrderServed}
}

// ParseOrderStatus 解析订单状态
func ParseOrderStatus(s string) (OrderStatus, error) {
	if err := validation.ValidateEnum(s, "status", orderStatuses); err != nil {
		return "", err
	}
	return OrderStatus(s), nil
}

// IsTerminal paid 与 cancelled 为终态
func (s OrderStatus) IsTerminal() bool {
	return s == OrderPaid || s == OrderCancelled
}

// IsActive 非终态即占用餐桌
func (s OrderStatus) IsActive() bool {
	return !s.IsTerminal()
}

// CanTransitionTo 判断状态迁移是否合法
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidOrderTransition 返回非法订单状态迁移的验证错误
func InvalidOrderTransition(from, to OrderStatus) error {
	return errors.NewError(errors.ErrCodeValidation,
		fmt.Sprintf("订单状态不能从 %s 变更为 %s", from, to)).
		WithDetails(map[string]any{"from": string(from), "to": string(to)})
}

// OrderLine 订单行；名称、单价与制作时间均为下单时的快照
type OrderLine struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	MenuItemID  int64           `db:"menu_item_id" json:"menu_item_id"`
	ItemName    string          `db:"item_name" json:"item_name"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	PrepMinutes int             `db:"prep_minutes" json:"prep_minutes"`
}

// Subtotal 单价快照 × 数量
func (l *OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order 订单
type Order struct {
	ID               int64           `db:"id" json:"id"`
	TableID          int64           `db:"table_id" json:"table_id"`
	Status           OrderStatus     `db:"status" json:"status"`
	OrderedAt        time.Time       `db:"ordered_at" json:"ordered_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
	ClosedAt         *time.Time      `db:"closed_at" json:"closed_at,omitempty"`
	Lines            []OrderLine     `db:"-" json:"lines"`
	Total            decimal.Decimal `db:"-" json:"total"`
	TotalPrepMinutes int             `db:"-" json:"total_prep_minutes"`
}

func (o *Order) GetID() int64 { return o.ID }

// Recalculate 由订单行快照重新计算合计
func (o *Order) Recalculate() {
	total := decimal.Zero
	prep := 0
	for i := range o.Lines {
		total = total.Add(o.Lines[i].Subtotal())
		prep += o.Lines[i].PrepMinutes * o.Lines[i].Quantity
	}
	o.Total = total
	o.TotalPrepMinutes = prep
}

// Line 按菜品查找订单行
func (o *Order) Line(menuItemID int64) (*OrderLine, bool) {
	for i := range o.Lines {
		if o.Lines[i].MenuItemID == menuItemID {
			return &o.Lines[i], true
		}
	}
	return nil, false
}

// LineInput 下单或加菜的一行
type LineInput struct {
	MenuItemID int64 `json:"menu_item_id"`
	Quantity   int   `json:"quantity"`
}

func (in LineInput) Validate() error {
	return validation.First(
		validation.ValidateID(in.MenuItemID, "menu_item_id"),
		validation.ValidatePositive(in.Quantity, "quantity"),
		validation.ValidateIntRange(in.Quantity, "quantity", 1, MaxLineQuantity),
	)
}

// MergeLines 合并同一菜品的多行，数量相加；结果按首次出现顺序排列
func MergeLines(lines []LineInput) []LineInput {
	index := make(map[int64]int, len(lines))
	merged := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		if i, ok := index[l.MenuItemID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[l.MenuItemID] = len(merged)
		merged = append(merged, l)
	}
	return merged
}

// ValidateLines 校验并合并订单行
func ValidateLines(lines []LineInput) ([]LineInput, error) {
	if len(lines) == 0 {
		return nil, errors.NewError(errors.ErrCodeValidation, "订单至少需要一个菜品").
			WithContext("field", "lines")
	}
	for _, l := range lines {
		if err := l.Validate(); err != nil {
			return nil, err
		}
	}
	merged := MergeLines(lines)
	for _, l := range merged {
		if err := validation.ValidateIntRange(l.Quantity, "quantity", 1, MaxLineQuantity); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// MenuItemIDs 返回去重后的菜品 ID（升序）
func MenuItemIDs(lines []LineInput) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.MenuItemID]; ok {
			continue
		}
		seen[l.MenuItemID] = struct{}{}
		ids = append(ids, l.MenuItemID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OrderInput 下单输入
type OrderInput struct {
	TableID int64       `json:"table_id"`
	Lines   []LineInput `json:"lines"`
}

// Validate 校验输入并就地合并重复菜品
func (in *OrderInput) Validate() error {
	if err := validation.ValidateID(in.TableID, "table_id"); err != nil {
		return err
	}
	merged, err := ValidateLines(in.Lines)
	if err != nil {
		return err
	}
	in.Lines = merged
	return nil
}

// OrderFilter 订单列表过滤条件
type OrderFilter struct {
	Status  OrderStatus
	TableID int64
}

func (f OrderFilter) Validate() error {
	if f.Status != "" {
		if _, err := ParseOrderStatus(string(f.Status)); err != nil {
			return err
		}
	}
	if f.TableID < 0 {
		return validation.ValidateID(f.TableID, "table_id")
	}
	return nil
}
