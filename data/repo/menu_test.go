package repo

import (
	"context"
	"testing"

	"github.com/AlekSi/pointer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant/domain/restaurant"
	"restaurant/errors"
	"restaurant/logging"
)

// TestMenuItem_CreateThenGet 创建后按 ID 读取得到相同的值
func TestMenuItem_CreateThenGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inputs := []restaurant.MenuItemInput{
		{Name: "Pho", Price: dec("8.50"), PrepMinutes: 12},
		{Name: "Green tea", Price: dec("0"), Available: pointer.To(false)},
		{Name: "Tasting menu", Price: dec("149.99"), PrepMinutes: 240},
		{Name: "  Padded name  ", Price: dec("3.1"), PrepMinutes: 1},
	}
	for _, in := range inputs {
		created, err := f.repos.Menu.Create(ctx, in)
		require.NoError(t, err)
		assert.Positive(t, created.ID)

		got, err := f.repos.Menu.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, created.Name, got.Name)
		assert.True(t, in.Price.Equal(got.Price), "price %s != %s", in.Price, got.Price)
		assert.Equal(t, in.IsAvailable(), got.Available)
		assert.Equal(t, in.PrepMinutes, got.PrepMinutes)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, "UTC", got.CreatedAt.Location().String())
	}

	got, err := f.repos.Menu.GetByID(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "Padded name", got.Name)
}

// TestMenuItem_ValidationBeforeStorage 非法输入不会访问数据库
func TestMenuItem_ValidationBeforeStorage(t *testing.T) {
	store := &countingStore{}
	repos := New(store, WithLogger(logging.NewNoopLogger()))
	ctx := context.Background()

	cases := []restaurant.MenuItemInput{
		{Name: "", Price: dec("1")},
		{Name: "Soup", Price: dec("-0.01")},
		{Name: "Soup", Price: dec("1.001")},
		{Name: "Soup", Price: dec("1"), PrepMinutes: -1},
	}
	for _, in := range cases {
		_, err := repos.Menu.Create(ctx, in)
		assert.True(t, errors.IsValidation(err), "input %+v: %v", in, err)
	}

	_, err := repos.Menu.Update(ctx, 1, restaurant.MenuItemUpdate{})
	assert.True(t, errors.IsValidation(err))
	_, err = repos.Menu.GetByID(ctx, 0)
	assert.True(t, errors.IsValidation(err))

	assert.Equal(t, int32(0), store.calls.Load())
}

// TestMenuItem_NotFound 不存在的 ID 返回 NOT_FOUND
func TestMenuItem_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repos.Menu.GetByID(ctx, 404)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err), "got %v", err)

	_, err = f.repos.Menu.Update(ctx, 404, restaurant.MenuItemUpdate{Available: pointer.To(false)})
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(f.repos.Menu.Delete(ctx, 404)))
}

// TestMenuItem_DuplicateNameAndSoftDelete 名称在未删除的菜品中唯一
func TestMenuItem_DuplicateNameAndSoftDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.menuItem(t, "Ramen", "11.00", 10)
	_, err := f.repos.Menu.Create(ctx, restaurant.MenuItemInput{Name: "Ramen", Price: dec("12")})
	assert.True(t, errors.IsConflict(err), "got %v", err)

	require.NoError(t, f.repos.Menu.Delete(ctx, first.ID))
	_, err = f.repos.Menu.GetByID(ctx, first.ID)
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(f.repos.Menu.Delete(ctx, first.ID)), "重复删除")

	second, err := f.repos.Menu.Create(ctx, restaurant.MenuItemInput{Name: "Ramen", Price: dec("12")})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID, "ID 不复用")

	// 软删除的行仍在表中
	assert.Equal(t, 2, f.count(t, `SELECT COUNT(*) FROM menu_items WHERE name = ?`, "Ramen"))
}

// TestMenuItem_UpdateAndList 部分更新与可售过滤
func TestMenuItem_UpdateAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	soup := f.menuItem(t, "Soup", "4.00", 5)
	salad := f.menuItem(t, "Salad", "6.00", 3)

	newPrice := decimal.RequireFromString("4.50")
	updated, err := f.repos.Menu.Update(ctx, soup.ID, restaurant.MenuItemUpdate{Price: &newPrice})
	require.NoError(t, err)
	assert.True(t, newPrice.Equal(updated.Price))
	assert.Equal(t, "Soup", updated.Name)

	_, err = f.repos.Menu.SetAvailability(ctx, salad.ID, false)
	require.NoError(t, err)

	all, err := f.repos.Menu.List(ctx, restaurant.MenuFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, soup.ID, all[0].ID)

	available, err := f.repos.Menu.List(ctx, restaurant.MenuFilter{Available: pointer.To(true)})
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, soup.ID, available[0].ID)

	unavailable, err := f.repos.Menu.List(ctx, restaurant.MenuFilter{Available: pointer.To(false)})
	require.NoError(t, err)
	require.Len(t, unavailable, 1)
	assert.Equal(t, salad.ID, unavailable[0].ID)

	// 重命名为已存在的名称
	_, err = f.repos.Menu.Update(ctx, soup.ID, restaurant.MenuItemUpdate{Name: pointer.To("Salad")})
	assert.True(t, errors.IsConflict(err))
}
