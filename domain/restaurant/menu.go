// Package restaurant 定义餐厅后台的领域模型：菜品、餐桌、订单及其状态机
package restaurant

import (
	"strings"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/shopspring/decimal"

	"restaurant/validation"
)

// 输入约束
const (
	MaxNameLength      = 100
	MaxPrepMinutes     = 240
	PriceScale         = 2
	MaxLineQuantity    = 100
	MaxTableCapacity   = 50
	MaxTableCodeLength = 20
)

// MenuItem 菜品
type MenuItem struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Available   bool            `db:"available" json:"available"`
	PrepMinutes int             `db:"prep_minutes" json:"prep_minutes"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

func (m *MenuItem) GetID() int64 { return m.ID }

// MenuItemInput 创建菜品的输入
type MenuItemInput struct {
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Available   *bool           `json:"available,omitempty"`
	PrepMinutes int             `json:"prep_minutes"`
}

// Normalize 去除名称首尾空白
func (in *MenuItemInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
}

func (in *MenuItemInput) Validate() error {
	return validation.First(
		validation.ValidateRequired(in.Name, "name"),
		validation.ValidateStringLength(in.Name, "name", 1, MaxNameLength),
		validation.ValidateMoney(in.Price, "price", PriceScale),
		validation.ValidateIntRange(in.PrepMinutes, "prep_minutes", 0, MaxPrepMinutes),
	)
}

// IsAvailable 未指定时默认上架
func (in *MenuItemInput) IsAvailable() bool {
	return in.Available == nil || *in.Available
}

// MenuItemUpdate 菜品的部分更新；nil 字段保持不变
type MenuItemUpdate struct {
	Name        *string          `json:"name,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Available   *bool            `json:"available,omitempty"`
	PrepMinutes *int             `json:"prep_minutes,omitempty"`
}

// Empty 没有任何字段需要更新
func (u *MenuItemUpdate) Empty() bool {
	return u.Name == nil && u.Price == nil && u.Available == nil && u.PrepMinutes == nil
}

func (u *MenuItemUpdate) Normalize() {
	if u.Name != nil {
		u.Name = pointer.To(strings.TrimSpace(*u.Name))
	}
}

func (u *MenuItemUpdate) Validate() error {
	if u.Empty() {
		return validation.NewValidationError("至少需要更新一个字段")
	}
	var errs []error
	if u.Name != nil {
		errs = append(errs,
			validation.ValidateRequired(*u.Name, "name"),
			validation.ValidateStringLength(*u.Name, "name", 1, MaxNameLength))
	}
	if u.Price != nil {
		errs = append(errs, validation.ValidateMoney(*u.Price, "price", PriceScale))
	}
	if u.PrepMinutes != nil {
		errs = append(errs, validation.ValidateIntRange(*u.PrepMinutes, "prep_minutes", 0, MaxPrepMinutes))
	}
	return validation.First(errs...)
}

// Apply 将更新合并到菜品上
func (u *MenuItemUpdate) Apply(m *MenuItem) {
	if u.Name != nil {
		m.Name = *u.Name
	}
	if u.Price != nil {
		m.Price = *u.Price
	}
	if u.Available != nil {
		m.Available = *u.Available
	}
	if u.PrepMinutes != nil {
		m.PrepMinutes = *u.PrepMinutes
	}
}

// MenuFilter 菜品列表过滤条件
type MenuFilter struct {
	// Available 为 nil 表示不过滤
	Available *bool
}
