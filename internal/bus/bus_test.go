package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestPublish_DeliversInSubscriptionOrder(t *testing.T) {
	b := New(nil)
	rec := &recorder{}

	b.Subscribe("t", func(_ context.Context, m Message) error {
		rec.add("first:" + string(m.Payload))
		return nil
	})
	b.Subscribe("t", func(_ context.Context, m Message) error {
		rec.add("second:" + string(m.Payload))
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "t", []byte("1")))
	require.NoError(t, b.Publish(context.Background(), "t", []byte("2")))
	require.NoError(t, b.Close())

	assert.Equal(t, []string{"first:1", "second:1", "first:2", "second:2"}, rec.snapshot())
}

func TestPublish_ReturnsBeforeHandlersRun(t *testing.T) {
	b := New(nil)
	release := make(chan struct{})
	ran := make(chan struct{})

	b.Subscribe("t", func(context.Context, Message) error {
		<-release
		close(ran)
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "t", nil))

	select {
	case <-ran:
		t.Fatal("handler ran synchronously")
	default:
	}

	close(release)
	require.NoError(t, b.Close())
	<-ran
}

func TestPublish_PayloadCopiedPerHandler(t *testing.T) {
	b := New(nil)
	rec := &recorder{}

	mutate := func(_ context.Context, m Message) error {
		rec.add(string(m.Payload))
		m.Payload[0] = 'X'
		return nil
	}
	b.Subscribe("t", mutate)
	b.Subscribe("t", mutate)

	payload := []byte("abc")
	require.NoError(t, b.Publish(context.Background(), "t", payload))
	payload[1] = 'Z' // caller reuses its buffer
	require.NoError(t, b.Close())

	assert.Equal(t, []string{"abc", "abc"}, rec.snapshot())
	assert.Equal(t, "aZc", string(payload))
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := New(nil)
	assert.NoError(t, b.Publish(context.Background(), "nobody", []byte("x")))
	require.NoError(t, b.Close())
}

func TestHandlerFailuresAreContained(t *testing.T) {
	b := New(nil)
	rec := &recorder{}

	b.Subscribe("t", func(context.Context, Message) error { return errors.New("boom") })
	b.Subscribe("t", func(context.Context, Message) error { panic("kaboom") })
	b.Subscribe("t", func(_ context.Context, m Message) error {
		rec.add(string(m.Payload))
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "t", []byte("ok")))
	require.NoError(t, b.Publish(context.Background(), "t", []byte("still ok")))
	require.NoError(t, b.Close())

	assert.Equal(t, []string{"ok", "still ok"}, rec.snapshot())
}

func TestInvoke_WrapsErrors(t *testing.T) {
	b := New(nil)
	defer b.Close()

	cause := errors.New("boom")
	s := &Subscription{bus: b, topic: "t", handler: func(context.Context, Message) error { return cause }}
	err := b.invoke(delivery{sub: s, msg: Message{Topic: "t"}})

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "t", de.Topic)
	assert.ErrorIs(t, err, cause)

	s.handler = func(context.Context, Message) error { panic("x") }
	err = b.invoke(delivery{sub: s, msg: Message{Topic: "t"}})
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Err.Error(), "panic: x")
}

func TestSubscription_Cancel(t *testing.T) {
	b := New(nil)
	rec := &recorder{}

	sub := b.Subscribe("t", func(_ context.Context, m Message) error {
		rec.add(string(m.Payload))
		return nil
	})
	assert.Equal(t, "t", sub.Topic())

	require.NoError(t, b.Publish(context.Background(), "t", []byte("before")))
	require.NoError(t, b.Shutdown(context.Background()))

	sub.Cancel()
	sub.Cancel()

	b2 := New(nil)
	sub2 := b2.Subscribe("t", func(_ context.Context, m Message) error {
		rec.add(string(m.Payload))
		return nil
	})
	sub2.Cancel()
	require.NoError(t, b2.Publish(context.Background(), "t", []byte("after")))
	require.NoError(t, b2.Close())

	assert.Equal(t, []string{"before"}, rec.snapshot())
}

func TestCancelKeepsOtherSubscribers(t *testing.T) {
	b := New(nil)
	rec := &recorder{}

	a := b.Subscribe("t", func(context.Context, Message) error { rec.add("a"); return nil })
	b.Subscribe("t", func(context.Context, Message) error { rec.add("b"); return nil })
	a.Cancel()

	require.NoError(t, b.Publish(context.Background(), "t", nil))
	require.NoError(t, b.Close())
	assert.Equal(t, []string{"b"}, rec.snapshot())
}

func TestClose_DrainsAndRejects(t *testing.T) {
	b := New(nil)
	rec := &recorder{}
	b.Subscribe("t", func(_ context.Context, m Message) error {
		time.Sleep(time.Millisecond)
		rec.add(string(m.Payload))
		return nil
	})

	for _, p := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, b.Publish(context.Background(), "t", []byte(p)))
	}
	require.NoError(t, b.Close())
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, rec.snapshot())
	assert.Zero(t, b.Pending())

	err := b.Publish(context.Background(), "t", []byte("late"))
	assert.ErrorIs(t, err, ErrClosed)

	// idempotent
	assert.NoError(t, b.Close())
}

func TestShutdown_Timeout(t *testing.T) {
	b := New(nil)
	release := make(chan struct{})
	b.Subscribe("t", func(context.Context, Message) error {
		<-release
		return nil
	})
	require.NoError(t, b.Publish(context.Background(), "t", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, b.Close())
}

func TestHandlerContextSurvivesPublisherCancel(t *testing.T) {
	b := New(nil)
	errCh := make(chan error, 1)
	b.Subscribe("t", func(ctx context.Context, _ Message) error {
		errCh <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Publish(ctx, "t", nil))
	cancel()
	require.NoError(t, b.Close())

	assert.NoError(t, <-errCh)
}
