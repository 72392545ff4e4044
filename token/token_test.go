package token_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotherio/cancelable-go/token"
)

func TestCancel_FirstCallWinsIdempotent(t *testing.T) {
	tok := token.New()

	require.True(t, tok.Cancel(token.ReasonManual, "stop"))
	require.False(t, tok.Cancel(token.ReasonTimeout, "ignored"))

	assert.True(t, tok.IsCancelled())
	assert.Equal(t, token.ReasonManual, tok.ReasonValue())
	assert.Equal(t, "stop", tok.Message())
	assert.False(t, tok.CancelledAt().IsZero())
}

func TestCancel_InvokesListenersOnceInOrder(t *testing.T) {
	tok := token.New()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		tok.RegisterListener(func(*token.Token) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	tok.Cancel(token.ReasonManual, "")
	tok.Cancel(token.ReasonManual, "") // no-op, must not re-invoke listeners

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestRegisterListener_LateRegistrationFiresImmediately(t *testing.T) {
	tok := token.New()
	tok.Cancel(token.ReasonSignal, "SIGINT")

	var called int32
	var got *token.Token
	tok.RegisterListener(func(t *token.Token) {
		atomic.AddInt32(&called, 1)
		got = t
	})

	assert.EqualValues(t, 1, called)
	require.NotNil(t, got)
	assert.Equal(t, token.ReasonSignal, got.ReasonValue())
}

func TestListenerPanicDoesNotStopOtherListeners(t *testing.T) {
	tok := token.New()

	var secondRan bool
	tok.RegisterListener(func(*token.Token) { panic("boom") })
	tok.RegisterListener(func(*token.Token) { secondRan = true })

	assert.True(t, tok.Cancel(token.ReasonManual, ""))
	assert.True(t, secondRan)
}

func TestRaiseIfCancelled(t *testing.T) {
	tok := token.New()
	require.NoError(t, tok.RaiseIfCancelled())

	tok.Cancel(token.ReasonCondition, "disk full")
	err := tok.RaiseIfCancelled()
	require.Error(t, err)

	var cancelErr *token.CancelError
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, token.ReasonCondition, cancelErr.Reason)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWait_ReturnsImmediatelyIfAlreadyCancelled(t *testing.T) {
	tok := token.New()
	tok.Cancel(token.ReasonManual, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, tok.Wait(ctx))
}

func TestWait_UnblocksOnCancel(t *testing.T) {
	tok := token.New()

	done := make(chan error, 1)
	go func() { done <- tok.Wait(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	tok.Cancel(token.ReasonTimeout, "")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock on cancel")
	}
}

func TestWait_ContextDeadline(t *testing.T) {
	tok := token.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := tok.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLink_PreserveReasonAdoptsUpstream(t *testing.T) {
	upstream := token.New()
	downstream := token.New()
	downstream.Link(upstream, true)

	upstream.Cancel(token.ReasonCondition, "mem > 90%")

	require.True(t, downstream.IsCancelled())
	assert.Equal(t, token.ReasonCondition, downstream.ReasonValue())
	assert.Equal(t, "mem > 90%", downstream.Message())
}

func TestLink_WithoutPreserveReasonUsesParent(t *testing.T) {
	upstream := token.New()
	downstream := token.New()
	downstream.Link(upstream, false)

	upstream.Cancel(token.ReasonManual, "stop")

	require.True(t, downstream.IsCancelled())
	assert.Equal(t, token.ReasonParent, downstream.ReasonValue())
}

func TestLink_OneWay(t *testing.T) {
	a := token.New()
	b := token.New()
	a.Link(b, false) // a cancels when b cancels, not vice versa

	a.Cancel(token.ReasonManual, "")
	assert.False(t, b.IsCancelled())
}
