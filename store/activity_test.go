package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxItems int) *Activity {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, maxItems)
}

func TestActivityAddAndGet(t *testing.T) {
	ctx := context.Background()
	a := newTestStore(t, 10)

	err := a.Add(ctx, Item{
		MessageID: "msg-1",
		Channel:   "deals",
		Product:   "Widget",
		Price:     19.99,
		URLs:      []string{"https://example.com/dp/X"},
		Triggered: true,
	})
	require.NoError(t, err)

	got, err := a.Get(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Product)
	assert.Equal(t, 19.99, got.Price)
	assert.True(t, got.Triggered)
	assert.False(t, got.TS.IsZero())
}

func TestActivityGetMissing(t *testing.T) {
	a := newTestStore(t, 10)
	_, err := a.Get(context.Background(), "nope")
	assert.Error(t, err)
}

func TestActivityAppendStep(t *testing.T) {
	ctx := context.Background()
	a := newTestStore(t, 10)
	require.NoError(t, a.Add(ctx, Item{MessageID: "msg-1"}))

	require.NoError(t, a.AppendStep(ctx, "msg-1", "adding_to_cart", "Clicked add to cart", map[string]interface{}{"selector": "#add-to-cart-button"}))
	require.NoError(t, a.AppendStep(ctx, "msg-1", "order_placed", "Order placed", nil))

	got, err := a.Get(ctx, "msg-1")
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "adding_to_cart", got.Steps[0].Step)
	assert.Equal(t, "order_placed", got.Steps[1].Step)
	assert.Equal(t, "#add-to-cart-button", got.Steps[0].Details["selector"])
}

func TestActivityAppendStepUnknownItem(t *testing.T) {
	a := newTestStore(t, 10)
	err := a.AppendStep(context.Background(), "ghost", "step", "msg", nil)
	assert.Error(t, err)
}

func TestActivityUpdateResult(t *testing.T) {
	ctx := context.Background()
	a := newTestStore(t, 10)
	require.NoError(t, a.Add(ctx, Item{MessageID: "msg-1"}))

	require.NoError(t, a.UpdateResult(ctx, "msg-1", "failed", "Seller validation failed", map[string]interface{}{"sold_by": "Some Other LLC"}))

	got, err := a.Get(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.ResultStatus)
	assert.Equal(t, "Seller validation failed", got.ResultMessage)
	assert.Equal(t, "Some Other LLC", got.ResultDetails["sold_by"])
}

func TestActivityRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	a := newTestStore(t, 10)
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Add(ctx, Item{MessageID: fmt.Sprintf("msg-%d", i)}))
	}

	items, err := a.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "msg-2", items[0].MessageID)
	assert.Equal(t, "msg-0", items[2].MessageID)
}

func TestActivityEvictsBeyondCap(t *testing.T) {
	ctx := context.Background()
	a := newTestStore(t, 2)
	for i := 0; i < 4; i++ {
		require.NoError(t, a.Add(ctx, Item{MessageID: fmt.Sprintf("msg-%d", i)}))
	}

	items, err := a.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "msg-3", items[0].MessageID)
	assert.Equal(t, "msg-2", items[1].MessageID)

	_, err = a.Get(ctx, "msg-0")
	assert.Error(t, err, "evicted items lose their document too")
}
