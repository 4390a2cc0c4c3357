package surrealdb

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/stocksync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockStore_SaveAndGet(t *testing.T) {
	store := testManager(t).StockStore()
	ctx := context.Background()

	stock := &models.TrackedStock{
		ID:           "s1",
		Code:         "005930",
		Name:         "Samsung Electronics",
		Market:       "KOSPI",
		CapturePrice: 70000,
		CaptureDate:  day(2026, 10, 1),
		CurrentPrice: 70000,
		HighestPrice: intPtr(70000),
		LowestPrice:  intPtr(70000),
	}
	require.NoError(t, store.Save(ctx, stock))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "005930", got.Code)
	assert.Equal(t, 70000, got.CapturePrice)
	assert.True(t, got.CaptureDate.Equal(day(2026, 10, 1)))
	require.NotNil(t, got.HighestPrice)
	assert.Equal(t, 70000, *got.HighestPrice)

	stock.CurrentPrice = 72000
	stock.HighestPrice = intPtr(73000)
	require.NoError(t, store.Save(ctx, stock))

	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 72000, got.CurrentPrice)
	assert.Equal(t, 73000, *got.HighestPrice)
}

func TestStockStore_GetNotFound(t *testing.T) {
	store := testManager(t).StockStore()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStockStore_NilExtrema(t *testing.T) {
	store := testManager(t).StockStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &models.TrackedStock{ID: "s1", Code: "000660", CaptureDate: day(2026, 10, 1)}))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got.HighestPrice)
	assert.Nil(t, got.LowestPrice)
}

func TestStockStore_FindAllAndByCode(t *testing.T) {
	store := testManager(t).StockStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &models.TrackedStock{ID: "a", Code: "005930", CapturePrice: 60000, CaptureDate: day(2026, 9, 1)}))
	require.NoError(t, store.Save(ctx, &models.TrackedStock{ID: "b", Code: "000660", CapturePrice: 150000, CaptureDate: day(2026, 9, 15)}))
	require.NoError(t, store.Save(ctx, &models.TrackedStock{ID: "c", Code: "005930", CapturePrice: 70000, CaptureDate: day(2026, 10, 1)}))

	all, err := store.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)

	latest, err := store.FindByCode(ctx, "005930")
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)

	_, err = store.FindByCode(ctx, "999999")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStockStore_FindCapturedPrice(t *testing.T) {
	store := testManager(t).StockStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &models.TrackedStock{ID: "a", Code: "005930", CapturePrice: 60000, CaptureDate: day(2026, 9, 1)}))
	require.NoError(t, store.Save(ctx, &models.TrackedStock{ID: "b", Code: "005930", CapturePrice: 70000, CaptureDate: day(2026, 10, 1)}))

	price, err := store.FindCapturedPrice(ctx, "005930", day(2026, 10, 1))
	require.NoError(t, err)
	assert.Equal(t, 70000, price)

	_, err = store.FindCapturedPrice(ctx, "005930", day(2026, 10, 2))
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = store.FindCapturedPrice(ctx, "000660", day(2026, 10, 1))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStockStore_SaveRequiresID(t *testing.T) {
	store := testManager(t).StockStore()

	err := store.Save(context.Background(), &models.TrackedStock{Code: "005930", CaptureDate: time.Now()})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
