package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/dispatch"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/ledgerstore"
)

func TestBus_SubscribeRejectsDuplicateName(t *testing.T) {
	b := New(nil)
	noop := func(context.Context, Event) error { return nil }

	require.NoError(t, b.Subscribe(TopicBaseTransfer, "router", noop))
	require.ErrorIs(t, b.Subscribe(TopicBaseTransfer, "router", noop), ErrDuplicateSubscriber)
	require.NoError(t, b.Subscribe(TopicWrappedReceipt, "router", noop), "names are scoped per topic")

	assert.Equal(t, []string{"router"}, b.Subscribers(TopicBaseTransfer))
}

func TestBus_PublishDeliversInOrderAndJoinsErrors(t *testing.T) {
	b := New(nil)
	boom := errors.New("boom")

	var got []string
	require.NoError(t, b.Subscribe(TopicBaseTransfer, "first", func(_ context.Context, ev Event) error {
		got = append(got, "first:"+ev.ID)
		return boom
	}))
	require.NoError(t, b.Subscribe(TopicBaseTransfer, "second", func(_ context.Context, ev Event) error {
		got = append(got, "second:"+ev.ID)
		return nil
	}))

	err := b.Publish(context.Background(), Event{ID: "1", Topic: TopicBaseTransfer})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first:1", "second:1"}, got)

	require.NoError(t, b.Publish(context.Background(), Event{ID: "2", Topic: "unknown"}))
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(nil)
	calls := 0
	require.NoError(t, b.Subscribe(TopicBaseTransfer, "x", func(context.Context, Event) error {
		calls++
		return nil
	}))

	assert.True(t, b.Unsubscribe(TopicBaseTransfer, "x"))
	assert.False(t, b.Unsubscribe(TopicBaseTransfer, "x"))

	require.NoError(t, b.Publish(context.Background(), Event{Topic: TopicBaseTransfer}))
	assert.Zero(t, calls)
	assert.Empty(t, b.Subscribers(TopicBaseTransfer))
}

func TestReceiptSink_PublishesAfterCommitOnly(t *testing.T) {
	b := New(nil)
	var got []Event
	require.NoError(t, b.Subscribe(TopicWrappedReceipt, "collector", func(_ context.Context, ev Event) error {
		got = append(got, ev)
		return nil
	}))

	sink := NewReceiptSink("self", b, nil)
	exec := dispatch.NewExecutor(ledgerstore.NewMemoryStore())
	qty := asset.New(10, asset.NewSymbol("WTK", 4))
	receipt := ledger.Receipt{Account: "alice", From: "alice", To: "bob", Quantity: qty, Memo: "hi"}

	err := exec.Run(context.Background(), "rolled-back", func(ctx context.Context, u *dispatch.Unit) error {
		sink.Notify(ctx, receipt)
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Empty(t, got)

	err = exec.Run(context.Background(), "committed", func(ctx context.Context, u *dispatch.Unit) error {
		sink.Notify(ctx, receipt)
		assert.Empty(t, got, "receipt must wait for commit")
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, TopicWrappedReceipt, got[0].Topic)
	assert.Equal(t, asset.Name("self"), got[0].Origin)
	assert.Equal(t, asset.Name("alice"), got[0].Account)
	assert.Equal(t, qty, got[0].Quantity)
}
