package repo

import (
	"context"
	"fmt"
	"time"

	core "restaurant/data/db"
	sqlbuilder "restaurant/data/db/sql"
	"restaurant/domain"
	"restaurant/domain/restaurant"
	"restaurant/errors"
	"restaurant/logging"
	"restaurant/validation"
)

// OrderRepository 订单仓储
//
// 订单的每次变更与餐桌状态切换、outbox 事件写在同一个事务里。
// 终态订单保留，不做物理删除。
type OrderRepository struct {
	*base
}

// Create 为餐桌下单
//
// 餐桌已有未结束的订单时返回 CONFLICT；菜品不存在返回 NOT_FOUND，已下架返回 CONFLICT。
// 重复的菜品在校验阶段合并为一行。
func (r *OrderRepository) Create(ctx context.Context, in restaurant.OrderInput) (*restaurant.Order, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var order *restaurant.Order
	err := r.store.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		table, err := getTable(ctx, tx, in.TableID)
		if err != nil {
			return err
		}
		activeID, err := activeOrderID(ctx, tx, table.ID)
		if err != nil {
			return err
		}
		if activeID != 0 {
			return errors.NewError(errors.ErrCodeConflict,
				fmt.Sprintf("table %d already has an active order", table.ID)).
				WithDetails(map[string]any{"table_id": table.ID, "order_id": activeID})
		}
		if !table.Status.AcceptsOrder() {
			return errors.NewError(errors.ErrCodeConflict,
				fmt.Sprintf("table %d is %s", table.ID, table.Status)).
				WithDetails(map[string]any{"table_id": table.ID, "status": string(table.Status)})
		}

		items, err := orderableItems(ctx, tx, in.Lines)
		if err != nil {
			return err
		}

		now := r.timestamp()
		res, err := sqlbuilder.New(tx).InsertInto(orderTable).
			Columns("table_id", "status", "ordered_at", "updated_at").
			Values(table.ID, restaurant.OrderOpen, now, now).
			Exec(ctx)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		o := &restaurant.Order{
			ID:        id,
			TableID:   table.ID,
			Status:    restaurant.OrderOpen,
			OrderedAt: now,
			UpdatedAt: now,
			Lines:     make([]restaurant.OrderLine, 0, len(in.Lines)),
		}
		for _, l := range in.Lines {
			line := snapshotLine(id, items[l.MenuItemID], l.Quantity)
			if err := insertLine(ctx, tx, &line); err != nil {
				return err
			}
			o.Lines = append(o.Lines, line)
		}
		if err := setTableStatus(ctx, tx, table.ID, restaurant.TableOccupied, now); err != nil {
			return err
		}
		o.Recalculate()

		if err := r.appendEvents(ctx, tx,
			restaurant.NewOrderEvent(restaurant.EventOrderCreated, o, "", o.Lines, now)); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "order.create")
	}

	r.log.Debug(ctx, "order created",
		logging.Int64("order_id", order.ID),
		logging.Int64("table_id", order.TableID),
		logging.Int("lines", len(order.Lines)))
	return order, nil
}

// GetByID 读取订单及其订单行
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*restaurant.Order, error) {
	if err := validation.ValidateID(id, "id"); err != nil {
		return nil, err
	}

	var order *restaurant.Order
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		var err error
		order, err = loadOrder(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "order.get")
	}
	return order, nil
}

// List 按 ID 升序列出订单（含订单行）
func (r *OrderRepository) List(ctx context.Context, filter restaurant.OrderFilter) ([]restaurant.Order, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	var orders []restaurant.Order
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		b := sqlbuilder.New(q).Select(orderColumns...).From(orderTable)
		if filter.Status != "" {
			b = b.Where("status = ?", filter.Status)
		}
		if filter.TableID > 0 {
			b = b.Where("table_id = ?", filter.TableID)
		}
		var err error
		orders, err = selectOrders(ctx, q, b.OrderBy("id ASC"))
		return err
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "order.list")
	}
	return orders, nil
}

// UpdateStatus 推进订单状态；进入终态时释放餐桌
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, to restaurant.OrderStatus) (*restaurant.Order, error) {
	if err := validation.ValidateID(id, "id"); err != nil {
		return nil, err
	}
	if _, err := restaurant.ParseOrderStatus(string(to)); err != nil {
		return nil, err
	}

	var order *restaurant.Order
	err := r.store.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		o, err := loadOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !o.Status.CanTransitionTo(to) {
			return restaurant.InvalidOrderTransition(o.Status, to)
		}

		events, err := r.transition(ctx, tx, o, to)
		if err != nil {
			return err
		}
		if err := r.appendEvents(ctx, tx, events...); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "order.update_status")
	}

	r.log.Debug(ctx, "order status changed",
		logging.Int64("order_id", order.ID),
		logging.String("status", string(order.Status)))
	return order, nil
}

// AddLines 向未开始制作的订单追加菜品；已有的菜品增加数量并保留原快照
func (r *OrderRepository) AddLines(ctx context.Context, orderID int64, lines []restaurant.LineInput) (*restaurant.Order, error) {
	if err := validation.ValidateID(orderID, "id"); err != nil {
		return nil, err
	}
	merged, err := restaurant.ValidateLines(lines)
	if err != nil {
		return nil, err
	}

	var order *restaurant.Order
	err = r.store.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		o, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := requireOpen(o); err != nil {
			return err
		}
		items, err := orderableItems(ctx, tx, merged)
		if err != nil {
			return err
		}

		added := make([]restaurant.OrderLine, 0, len(merged))
		for _, l := range merged {
			if existing, ok := o.Line(l.MenuItemID); ok {
				qty := existing.Quantity + l.Quantity
				if err := validation.ValidateIntRange(qty, "quantity", 1, restaurant.MaxLineQuantity); err != nil {
					return err
				}
				if err := setLineQuantity(ctx, tx, existing.ID, qty); err != nil {
					return err
				}
				existing.Quantity = qty
				delta := *existing
				delta.Quantity = l.Quantity
				added = append(added, delta)
				continue
			}
			line := snapshotLine(o.ID, items[l.MenuItemID], l.Quantity)
			if err := insertLine(ctx, tx, &line); err != nil {
				return err
			}
			o.Lines = append(o.Lines, line)
			added = append(added, line)
		}

		now := r.timestamp()
		if err := touchOrder(ctx, tx, o, now); err != nil {
			return err
		}
		o.Recalculate()

		if err := r.appendEvents(ctx, tx,
			restaurant.NewOrderEvent(restaurant.EventOrderLinesAdded, o, "", added, now)); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "order.add_lines")
	}
	return order, nil
}

// RemoveItem 将订单中某个菜品的数量减一
//
// 数量减到零时删除该行；订单的最后一行被删除时订单取消并释放餐桌。
func (r *OrderRepository) RemoveItem(ctx context.Context, orderID, menuItemID int64) (*restaurant.Order, error) {
	if err := validation.First(
		validation.ValidateID(orderID, "id"),
		validation.ValidateID(menuItemID, "menu_item_id"),
	); err != nil {
		return nil, err
	}

	var order *restaurant.Order
	err := r.store.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		o, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := requireOpen(o); err != nil {
			return err
		}
		line, ok := o.Line(menuItemID)
		if !ok {
			return lineNotFound(orderID, menuItemID)
		}

		removed := *line
		removed.Quantity = 1
		if line.Quantity > 1 {
			if err := setLineQuantity(ctx, tx, line.ID, line.Quantity-1); err != nil {
				return err
			}
			line.Quantity--
		} else {
			if _, err := sqlbuilder.New(tx).DeleteFrom(lineTable).Where("id = ?", line.ID).Exec(ctx); err != nil {
				return err
			}
			o.Lines = removeLine(o.Lines, line.ID)
		}

		now := r.timestamp()
		o.Recalculate()
		events := []domain.IDomainEvent{
			restaurant.NewOrderEvent(restaurant.EventOrderItemRemoved, o, "", []restaurant.OrderLine{removed}, now),
		}

		if len(o.Lines) == 0 {
			more, err := r.transition(ctx, tx, o, restaurant.OrderCancelled)
			if err != nil {
				return err
			}
			events = append(events, more...)
		} else if err := touchOrder(ctx, tx, o, now); err != nil {
			return err
		}

		if err := r.appendEvents(ctx, tx, events...); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "order.remove_item")
	}
	return order, nil
}

// ActiveForTable 读取餐桌当前未结束的订单
func (r *OrderRepository) ActiveForTable(ctx context.Context, tableID int64) (*restaurant.Order, error) {
	if err := validation.ValidateID(tableID, "table_id"); err != nil {
		return nil, err
	}

	var order *restaurant.Order
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		o, err := activeOrderForTable(ctx, q, tableID)
		if err != nil {
			return err
		}
		if o == nil {
			return errors.NewError(errors.ErrCodeNotFound,
				fmt.Sprintf("table %d has no active order", tableID)).
				WithDetails(map[string]any{"table_id": tableID})
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "order.active_for_table")
	}
	return order, nil
}

// TableItems 餐桌当前订单的所有订单行；没有未结束订单时返回空列表
func (r *OrderRepository) TableItems(ctx context.Context, tableID int64) ([]restaurant.OrderLine, error) {
	if err := validation.ValidateID(tableID, "table_id"); err != nil {
		return nil, err
	}

	lines := []restaurant.OrderLine{}
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		o, err := activeOrderForTable(ctx, q, tableID)
		if err != nil || o == nil {
			return err
		}
		lines = o.Lines
		return nil
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "order.table_items")
	}
	return lines, nil
}

// TableItem 餐桌当前订单中指定菜品的订单行
func (r *OrderRepository) TableItem(ctx context.Context, tableID, menuItemID int64) (*restaurant.OrderLine, error) {
	if err := validation.First(
		validation.ValidateID(tableID, "table_id"),
		validation.ValidateID(menuItemID, "menu_item_id"),
	); err != nil {
		return nil, err
	}

	var line *restaurant.OrderLine
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		o, err := activeOrderForTable(ctx, q, tableID)
		if err != nil {
			return err
		}
		if o != nil {
			if l, ok := o.Line(menuItemID); ok {
				line = l
				return nil
			}
		}
		return errors.NewError(errors.ErrCodeNotFound,
			fmt.Sprintf("table %d has no item %d", tableID, menuItemID)).
			WithDetails(map[string]any{"table_id": tableID, "menu_item_id": menuItemID})
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "order.table_item")
	}
	return line, nil
}

// transition 在事务内切换订单状态，进入终态时释放餐桌；返回需要追加的事件
func (r *OrderRepository) transition(ctx context.Context, tx core.ITransaction, o *restaurant.Order, to restaurant.OrderStatus) ([]domain.IDomainEvent, error) {
	prev := o.Status
	now := r.timestamp()

	b := sqlbuilder.New(tx).Update(orderTable).
		Set("status", to).
		Set("updated_at", now)
	if to.IsTerminal() {
		b = b.Set("closed_at", now)
		o.ClosedAt = &now
	}
	if _, err := b.Where("id = ?", o.ID).Exec(ctx); err != nil {
		return nil, err
	}
	o.Status = to
	o.UpdatedAt = now

	if to.IsTerminal() {
		_, err := sqlbuilder.New(tx).Update(tableTable).
			Set("status", restaurant.TableFree).
			Set("updated_at", now).
			Where("id = ?", o.TableID).
			Where("status = ?", restaurant.TableOccupied).
			Exec(ctx)
		if err != nil {
			return nil, err
		}
	}

	return []domain.IDomainEvent{
		restaurant.NewOrderEvent(restaurant.EventOrderStatusChanged, o, prev, nil, now),
	}, nil
}

func requireOpen(o *restaurant.Order) error {
	if o.Status == restaurant.OrderOpen {
		return nil
	}
	return errors.NewError(errors.ErrCodeConflict,
		fmt.Sprintf("order %d is %s; only open orders can be changed", o.ID, o.Status)).
		WithDetails(map[string]any{"order_id": o.ID, "status": string(o.Status)})
}

func lineNotFound(orderID, menuItemID int64) error {
	return errors.NewError(errors.ErrCodeNotFound,
		fmt.Sprintf("order %d has no item %d", orderID, menuItemID)).
		WithDetails(map[string]any{"order_id": orderID, "menu_item_id": menuItemID})
}

// orderableItems 读取下单涉及的菜品，并确认它们存在且在售
func orderableItems(ctx context.Context, q core.IDatabase, lines []restaurant.LineInput) (map[int64]restaurant.MenuItem, error) {
	ids := restaurant.MenuItemIDs(lines)
	items, err := menuItemsByID(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		item, ok := items[id]
		if !ok {
			return nil, errors.NewNotFoundError("menu item", id)
		}
		if !item.Available {
			return nil, errors.NewError(errors.ErrCodeConflict,
				fmt.Sprintf("menu item %d is not available", id)).
				WithDetails(map[string]any{"menu_item_id": id})
		}
	}
	return items, nil
}

func snapshotLine(orderID int64, item restaurant.MenuItem, quantity int) restaurant.OrderLine {
	return restaurant.OrderLine{
		OrderID:     orderID,
		MenuItemID:  item.ID,
		ItemName:    item.Name,
		Quantity:    quantity,
		UnitPrice:   item.Price,
		PrepMinutes: item.PrepMinutes,
	}
}

func insertLine(ctx context.Context, tx core.ITransaction, line *restaurant.OrderLine) error {
	res, err := sqlbuilder.New(tx).InsertInto(lineTable).
		Columns("order_id", "menu_item_id", "item_name", "quantity", "unit_price", "prep_minutes").
		Values(line.OrderID, line.MenuItemID, line.ItemName, line.Quantity, line.UnitPrice, line.PrepMinutes).
		Exec(ctx)
	if err != nil {
		return err
	}
	line.ID, err = res.LastInsertId()
	return err
}

func setLineQuantity(ctx context.Context, tx core.ITransaction, lineID int64, quantity int) error {
	_, err := sqlbuilder.New(tx).Update(lineTable).
		Set("quantity", quantity).
		Where("id = ?", lineID).
		Exec(ctx)
	return err
}

func touchOrder(ctx context.Context, tx core.ITransaction, o *restaurant.Order, now time.Time) error {
	_, err := sqlbuilder.New(tx).Update(orderTable).
		Set("updated_at", now).
		Where("id = ?", o.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	o.UpdatedAt = now
	return nil
}

func removeLine(lines []restaurant.OrderLine, lineID int64) []restaurant.OrderLine {
	out := lines[:0]
	for _, l := range lines {
		if l.ID != lineID {
			out = append(out, l)
		}
	}
	return out
}

// activeOrderID 返回餐桌未结束订单的 ID，没有时为 0
func activeOrderID(ctx context.Context, q core.IDatabase, tableID int64) (int64, error) {
	var ids []int64
	err := sqlbuilder.New(q).Select("id").From(orderTable).
		Where("table_id = ?", tableID).
		WhereIn("status", restaurant.ActiveOrderStatuses()).
		Limit(1).
		Select(ctx, &ids)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	return ids[0], nil
}

// activeOrderForTable 餐桌不存在时返回 NOT_FOUND；没有未结束订单时返回 nil
func activeOrderForTable(ctx context.Context, q core.IDatabase, tableID int64) (*restaurant.Order, error) {
	if _, err := getTable(ctx, q, tableID); err != nil {
		return nil, err
	}
	orderID, err := activeOrderID(ctx, q, tableID)
	if err != nil || orderID == 0 {
		return nil, err
	}
	return loadOrder(ctx, q, orderID)
}

func loadOrder(ctx context.Context, q core.IDatabase, id int64) (*restaurant.Order, error) {
	var o restaurant.Order
	err := sqlbuilder.New(q).Select(orderColumns...).From(orderTable).
		Where("id = ?", id).
		Get(ctx, &o)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	lines, err := linesByOrder(ctx, q, []int64{id})
	if err != nil {
		return nil, err
	}
	finishOrder(&o, lines[id])
	return &o, nil
}

// selectOrders 执行订单查询并批量加载订单行
func selectOrders(ctx context.Context, q core.IDatabase, b sqlbuilder.ISelectBuilder) ([]restaurant.Order, error) {
	orders := []restaurant.Order{}
	if err := b.Select(ctx, &orders); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	lines, err := linesByOrder(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		finishOrder(&orders[i], lines[orders[i].ID])
	}
	return orders, nil
}

func linesByOrder(ctx context.Context, q core.IDatabase, orderIDs []int64) (map[int64][]restaurant.OrderLine, error) {
	var lines []restaurant.OrderLine
	err := sqlbuilder.New(q).Select(lineColumns...).From(lineTable).
		WhereIn("order_id", orderIDs).
		OrderBy("id ASC").
		Select(ctx, &lines)
	if err != nil {
		return nil, err
	}
	byOrder := make(map[int64][]restaurant.OrderLine, len(orderIDs))
	for _, l := range lines {
		byOrder[l.OrderID] = append(byOrder[l.OrderID], l)
	}
	return byOrder, nil
}

func finishOrder(o *restaurant.Order, lines []restaurant.OrderLine) {
	if lines == nil {
		lines = []restaurant.OrderLine{}
	}
	o.Lines = lines
	utc(&o.OrderedAt, &o.UpdatedAt, o.ClosedAt)
	o.Recalculate()
}
