package repo

import (
	"context"

	core "restaurant/data/db"
	sqlbuilder "restaurant/data/db/sql"
	"restaurant/domain/restaurant"
	"restaurant/errors"
)

// State 在一个只读事务中读取餐桌、菜品与未结束的订单
func (r *OrderRepository) State(ctx context.Context) (*restaurant.State, error) {
	state := &restaurant.State{}
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		var err error
		if state.Tables, err = listTables(ctx, q, restaurant.TableFilter{}); err != nil {
			return err
		}
		if state.MenuItems, err = listMenuItems(ctx, q, restaurant.MenuFilter{}); err != nil {
			return err
		}
		state.ActiveOrders, err = selectOrders(ctx, q,
			sqlbuilder.New(q).Select(orderColumns...).From(orderTable).
				WhereIn("status", restaurant.ActiveOrderStatuses()).
				OrderBy("id ASC"))
		return err
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "state")
	}
	state.ReadAt = r.timestamp()
	return state, nil
}
