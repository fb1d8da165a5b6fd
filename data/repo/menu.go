package repo

import (
	"context"

	"github.com/AlekSi/pointer"

	core "restaurant/data/db"
	sqlbuilder "restaurant/data/db/sql"
	"restaurant/domain/restaurant"
	"restaurant/errors"
	"restaurant/logging"
	"restaurant/validation"
)

// MenuItemRepository 菜品仓储；删除为软删除，已删除的菜品对查询和下单不可见
type MenuItemRepository struct {
	*base
}

// Create 新建菜品；名称与未删除的菜品重复时返回 CONFLICT
func (r *MenuItemRepository) Create(ctx context.Context, in restaurant.MenuItemInput) (*restaurant.MenuItem, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var item *restaurant.MenuItem
	err := r.store.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		now := r.timestamp()
		res, err := sqlbuilder.New(tx).InsertInto(menuTable).
			Columns("name", "price", "available", "prep_minutes", "created_at", "updated_at").
			Values(in.Name, in.Price, in.IsAvailable(), in.PrepMinutes, now, now).
			Exec(ctx)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		item = &restaurant.MenuItem{
			ID:          id,
			Name:        in.Name,
			Price:       in.Price,
			Available:   in.IsAvailable(),
			PrepMinutes: in.PrepMinutes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "menu_item.create")
	}

	r.log.Debug(ctx, "menu item created", logging.Int64("id", item.ID), logging.String("name", item.Name))
	return item, nil
}

// GetByID 按 ID 读取菜品
func (r *MenuItemRepository) GetByID(ctx context.Context, id int64) (*restaurant.MenuItem, error) {
	if err := validation.ValidateID(id, "id"); err != nil {
		return nil, err
	}

	var item *restaurant.MenuItem
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		var err error
		item, err = getMenuItem(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "menu_item.get")
	}
	return item, nil
}

// List 按 ID 升序列出菜品
func (r *MenuItemRepository) List(ctx context.Context, filter restaurant.MenuFilter) ([]restaurant.MenuItem, error) {
	var items []restaurant.MenuItem
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		var err error
		items, err = listMenuItems(ctx, q, filter)
		return err
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "menu_item.list")
	}
	return items, nil
}

// Update 部分更新菜品；已有订单行中的快照不受影响
func (r *MenuItemRepository) Update(ctx context.Context, id int64, upd restaurant.MenuItemUpdate) (*restaurant.MenuItem, error) {
	if err := validation.ValidateID(id, "id"); err != nil {
		return nil, err
	}
	upd.Normalize()
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	var item *restaurant.MenuItem
	err := r.store.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		current, err := getMenuItem(ctx, tx, id)
		if err != nil {
			return err
		}
		upd.Apply(current)
		current.UpdatedAt = r.timestamp()

		_, err = sqlbuilder.New(tx).Update(menuTable).
			Set("name", current.Name).
			Set("price", current.Price).
			Set("available", current.Available).
			Set("prep_minutes", current.PrepMinutes).
			Set("updated_at", current.UpdatedAt).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}
		item = current
		return nil
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "menu_item.update")
	}
	return item, nil
}

// SetAvailability 上架或下架菜品
func (r *MenuItemRepository) SetAvailability(ctx context.Context, id int64, available bool) (*restaurant.MenuItem, error) {
	return r.Update(ctx, id, restaurant.MenuItemUpdate{Available: pointer.To(available)})
}

// Delete 软删除菜品；历史订单行仍然保留其快照
func (r *MenuItemRepository) Delete(ctx context.Context, id int64) error {
	if err := validation.ValidateID(id, "id"); err != nil {
		return err
	}

	err := r.store.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		now := r.timestamp()
		res, err := sqlbuilder.New(tx).Update(menuTable).
			Set("deleted_at", now).
			Set("updated_at", now).
			Where("id = ?", id).
			Where("deleted_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.NewNotFoundError("menu item", id)
		}
		return nil
	})
	if err != nil {
		return errors.WrapStorageError(ctx, err, "menu_item.delete")
	}

	r.log.Debug(ctx, "menu item deleted", logging.Int64("id", id))
	return nil
}

func getMenuItem(ctx context.Context, q core.IDatabase, id int64) (*restaurant.MenuItem, error) {
	var item restaurant.MenuItem
	err := sqlbuilder.New(q).Select(menuColumns...).From(menuTable).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Get(ctx, &item)
	if err != nil {
		return nil, notFound(err, "menu item", id)
	}
	utc(&item.CreatedAt, &item.UpdatedAt)
	return &item, nil
}

func listMenuItems(ctx context.Context, q core.IDatabase, filter restaurant.MenuFilter) ([]restaurant.MenuItem, error) {
	b := sqlbuilder.New(q).Select(menuColumns...).From(menuTable).
		Where("deleted_at IS NULL")
	if filter.Available != nil {
		b = b.Where("available = ?", *filter.Available)
	}

	items := []restaurant.MenuItem{}
	if err := b.OrderBy("id ASC").Select(ctx, &items); err != nil {
		return nil, err
	}
	for i := range items {
		utc(&items[i].CreatedAt, &items[i].UpdatedAt)
	}
	return items, nil
}

// menuItemsByID 读取一组未删除的菜品
func menuItemsByID(ctx context.Context, q core.IDatabase, ids []int64) (map[int64]restaurant.MenuItem, error) {
	var items []restaurant.MenuItem
	err := sqlbuilder.New(q).Select(menuColumns...).From(menuTable).
		Where("deleted_at IS NULL").
		WhereIn("id", ids).
		Select(ctx, &items)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]restaurant.MenuItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	return byID, nil
}
