package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/order-gateway/internal/config"
	"github.com/jmehdipour/order-gateway/internal/db"
	"github.com/jmehdipour/order-gateway/internal/model"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dbx, err := db.Open(config.StorageConfig{
		Driver:      config.DriverSQLite,
		DSN:         filepath.Join(t.TempDir(), "repo.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })
	return dbx
}

func newOrder(id string, items ...string) model.Order {
	return model.Order{ID: id, ItemIDs: items, CreatedAt: time.Now().UTC()}
}

func TestOrders_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewOrdersRepository(openTestDB(t))

	require.NoError(t, repo.Insert(ctx, nil, newOrder("o1", "b", "a", "c")))

	got, err := repo.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)
	assert.Equal(t, []string{"b", "a", "c"}, got.ItemIDs)
	assert.False(t, got.CreatedAt.IsZero())

	exists, err := repo.Exists(ctx, nil, "o1")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrders_InsertDuplicateOrderID(t *testing.T) {
	ctx := context.Background()
	repo := NewOrdersRepository(openTestDB(t))

	require.NoError(t, repo.Insert(ctx, nil, newOrder("o1", "a")))
	err := repo.Insert(ctx, nil, newOrder("o1", "b"))
	assert.ErrorIs(t, err, ErrDuplicateOrderID)
}

func TestOrders_InsertDuplicateItemsRollsBack(t *testing.T) {
	ctx := context.Background()
	dbx := openTestDB(t)
	repo := NewOrdersRepository(dbx)

	require.NoError(t, repo.Insert(ctx, nil, newOrder("o1", "a", "b")))

	err := repo.Insert(ctx, nil, newOrder("o2", "b", "x", "a"))
	var dup *DuplicateItemsError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, []string{"b", "a"}, dup.Items)

	// nothing from o2 survives
	exists, err := repo.Exists(ctx, nil, "o2")
	require.NoError(t, err)
	assert.False(t, exists)
	owned, err := repo.OwnedItems(ctx, nil, []string{"x"})
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestOrders_OwnedItemsKeepsRequestOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewOrdersRepository(openTestDB(t))

	require.NoError(t, repo.Insert(ctx, nil, newOrder("o1", "a", "b", "c")))

	owned, err := repo.OwnedItems(ctx, nil, []string{"z", "c", "a", "y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, owned)

	owned, err = repo.OwnedItems(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestOrders_List(t *testing.T) {
	ctx := context.Background()
	repo := NewOrdersRepository(openTestDB(t))

	base := time.Now().UTC()
	for i, id := range []string{"o1", "o2", "o3"} {
		o := newOrder(id, id+"-a", id+"-b")
		o.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Insert(ctx, nil, o))
	}

	page, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "o1", page[0].ID)
	assert.Equal(t, []string{"o1-a", "o1-b"}, page[0].ItemIDs)
	assert.Equal(t, "o2", page[1].ID)

	page, err = repo.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "o3", page[0].ID)

	page, err = repo.List(ctx, 2, 10)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)
}

func TestOutbox_InsertAndListAfter(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository(openTestDB(t))

	var ids []int64
	for _, agg := range []string{"o1", "o2", "o3"} {
		id, err := repo.Insert(ctx, nil, model.OutboxEvent{
			Aggregate:   "order",
			AggregateID: agg,
			Topic:       model.TopicOrderCreated,
			Type:        model.EventTypeOrderCreated,
			Version:     model.EventVersion,
			Payload:     []byte(`{"orderId":"` + agg + `"}`),
			CreatedAt:   time.Now().UTC(),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	evs, err := repo.ListAfter(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "o1", evs[0].AggregateID)
	assert.Equal(t, `{"orderId":"o1"}`, string(evs[0].Payload))
	assert.Equal(t, model.EventVersion, evs[0].Version)

	evs, err = repo.ListAfter(ctx, evs[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "o3", evs[0].AggregateID)
}

func TestOutbox_OnePerOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository(openTestDB(t))

	ev := model.OutboxEvent{
		Aggregate: "order", AggregateID: "o1",
		Topic: model.TopicOrderCreated, Type: model.EventTypeOrderCreated,
		Version: 1, Payload: []byte(`{}`), CreatedAt: time.Now().UTC(),
	}
	_, err := repo.Insert(ctx, nil, ev)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, nil, ev)
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err))
}

func TestMarks_ClaimReleaseCount(t *testing.T) {
	ctx := context.Background()
	dbx := openTestDB(t)
	repo := NewMarksRepository(dbx)

	ok, err := repo.Claim(ctx, nil, "a", "o1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(ctx, nil, "a", "o1")
	require.NoError(t, err)
	assert.False(t, ok, "second claim must be refused")

	ok, err = repo.Claim(ctx, nil, "a", "o2")
	require.NoError(t, err)
	assert.True(t, ok, "same item under another order is a different mark")

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tx, err := dbx.BeginTxx(ctx, nil)
	require.NoError(t, err)
	ok, err = repo.Claim(ctx, tx, "b", "o1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.Release(ctx, tx, "b", "o1"))
	require.NoError(t, tx.Commit())

	exists, err := repo.Exists(ctx, "b", "o1")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = repo.Exists(ctx, "a", "o1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestOrders_InsertAgainstSortOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewOrdersRepository(openTestDB(t))

	require.NoError(t, repo.Insert(ctx, nil, newOrder("o1", "a", "c")))

	err := repo.Insert(ctx, nil, newOrder("o2", "z", "c", "m", "a"))
	var dup *DuplicateItemsError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, []string{"c", "a"}, dup.Items, "reported in request order")

	require.NoError(t, repo.Insert(ctx, nil, newOrder("o3", "z", "y", "m")))
	got, err := repo.Get(ctx, "o3")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y", "m"}, got.ItemIDs, "seq keeps the request position")
}
