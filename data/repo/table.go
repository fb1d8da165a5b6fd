package repo

import (
	"context"
	"time"

	core "restaurant/data/db"
	sqlbuilder "restaurant/data/db/sql"
	"restaurant/domain/restaurant"
	"restaurant/errors"
	"restaurant/logging"
	"restaurant/validation"
)

// TableRepository 餐桌仓储
//
// occupied 状态只由订单驱动（下单进入、订单结束离开），显式更新只允许 free 与 reserved 互换。
type TableRepository struct {
	*base
}

// Create 新建餐桌，初始状态为 free；编码重复时返回 CONFLICT
func (r *TableRepository) Create(ctx context.Context, in restaurant.TableInput) (*restaurant.Table, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var t *restaurant.Table
	err := r.store.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		now := r.timestamp()
		res, err := sqlbuilder.New(tx).InsertInto(tableTable).
			Columns("code", "capacity", "status", "created_at", "updated_at").
			Values(in.Code, in.Capacity, restaurant.TableFree, now, now).
			Exec(ctx)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		t = &restaurant.Table{
			ID:        id,
			Code:      in.Code,
			Capacity:  in.Capacity,
			Status:    restaurant.TableFree,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "table.create")
	}

	r.log.Debug(ctx, "table created", logging.Int64("id", t.ID), logging.String("code", t.Code))
	return t, nil
}

// GetByID 按 ID 读取餐桌
func (r *TableRepository) GetByID(ctx context.Context, id int64) (*restaurant.Table, error) {
	if err := validation.ValidateID(id, "id"); err != nil {
		return nil, err
	}

	var t *restaurant.Table
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		var err error
		t, err = getTable(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "table.get")
	}
	return t, nil
}

// List 按 ID 升序列出餐桌
func (r *TableRepository) List(ctx context.Context, filter restaurant.TableFilter) ([]restaurant.Table, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	var tables []restaurant.Table
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		var err error
		tables, err = listTables(ctx, q, filter)
		return err
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "table.list")
	}
	return tables, nil
}

// UpdateStatus 显式切换餐桌状态；切换到当前状态不做任何修改
func (r *TableRepository) UpdateStatus(ctx context.Context, id int64, to restaurant.TableStatus) (*restaurant.Table, error) {
	if err := validation.ValidateID(id, "id"); err != nil {
		return nil, err
	}
	if _, err := restaurant.ParseTableStatus(string(to)); err != nil {
		return nil, err
	}

	var t *restaurant.Table
	err := r.store.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		current, err := getTable(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status == to {
			t = current
			return nil
		}
		if !current.Status.CanSetManually(to) {
			return restaurant.InvalidTableTransition(current.Status, to)
		}

		current.Status = to
		current.UpdatedAt = r.timestamp()
		if err := setTableStatus(ctx, tx, id, to, current.UpdatedAt); err != nil {
			return err
		}
		t = current
		return nil
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "table.update_status")
	}
	return t, nil
}

func getTable(ctx context.Context, q core.IDatabase, id int64) (*restaurant.Table, error) {
	var t restaurant.Table
	err := sqlbuilder.New(q).Select(tableColumns...).From(tableTable).
		Where("id = ?", id).
		Get(ctx, &t)
	if err != nil {
		return nil, notFound(err, "table", id)
	}
	utc(&t.CreatedAt, &t.UpdatedAt)
	return &t, nil
}

func listTables(ctx context.Context, q core.IDatabase, filter restaurant.TableFilter) ([]restaurant.Table, error) {
	b := sqlbuilder.New(q).Select(tableColumns...).From(tableTable)
	if filter.Status != "" {
		b = b.Where("status = ?", filter.Status)
	}

	tables := []restaurant.Table{}
	if err := b.OrderBy("id ASC").Select(ctx, &tables); err != nil {
		return nil, err
	}
	for i := range tables {
		utc(&tables[i].CreatedAt, &tables[i].UpdatedAt)
	}
	return tables, nil
}

func setTableStatus(ctx context.Context, tx core.ITransaction, id int64, status restaurant.TableStatus, at time.Time) error {
	_, err := sqlbuilder.New(tx).Update(tableTable).
		Set("status", status).
		Set("updated_at", at).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
