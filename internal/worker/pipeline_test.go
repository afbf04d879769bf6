package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/order-gateway/internal/bus"
	"github.com/jmehdipour/order-gateway/internal/model"
	"github.com/jmehdipour/order-gateway/internal/repository"
	"github.com/jmehdipour/order-gateway/internal/service/orders"
)

func TestPipeline_SubmitBusNotifier(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()
	outbox := repository.NewOutboxRepository(dbx)
	marks := repository.NewMarksRepository(dbx)
	sender := &fakeSender{}

	b := bus.New(nil)
	n := NewNotifier(dbx, marks, sender, nil)
	n.Attach(b)
	svc := orders.New(dbx, repository.NewOrdersRepository(dbx), outbox, b, nil, 0)

	id, err := svc.Submit(ctx, []string{"itemA", "itemB"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = svc.Submit(ctx, []string{"itemC"}, id)
	require.Error(t, err)
	assert.Equal(t, "duplicate orderId", err.Error())

	_, err = svc.Submit(ctx, []string{"itemA"}, "o2")
	require.Error(t, err)
	assert.Equal(t, "duplicate item(s): itemA", err.Error())

	require.NoError(t, b.Close())

	assert.Equal(t, []string{
		model.MarkKey("itemA", id),
		model.MarkKey("itemB", id),
	}, sender.snapshot())

	count, err := marks.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPipeline_ConcurrentSubmitsThenReplay(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()
	outbox := repository.NewOutboxRepository(dbx)
	marks := repository.NewMarksRepository(dbx)
	sender := &fakeSender{}

	b := bus.New(nil)
	n := NewNotifier(dbx, marks, sender, nil)
	n.Attach(b)
	svc := orders.New(dbx, repository.NewOrdersRepository(dbx), outbox, b, nil, 0)

	const submits = 20
	ids := make([]string, submits)
	var wg sync.WaitGroup
	for i := 0; i < submits; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := svc.Submit(ctx, []string{"item-" + string(rune('a'+i))}, "")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()
	require.NoError(t, b.Close())

	count, err := marks.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, submits, count)
	assert.Len(t, sender.snapshot(), submits)

	stats, err := n.Replay(ctx, outbox)
	require.NoError(t, err)
	assert.Equal(t, submits, stats.Events)

	count, err = marks.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, submits, count, "replay after live delivery adds no marks")
	assert.Len(t, sender.snapshot(), submits, "replay after live delivery sends nothing")

	for i, id := range ids {
		ok, err := marks.Exists(ctx, "item-"+string(rune('a'+i)), id)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}
