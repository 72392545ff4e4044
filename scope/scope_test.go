package scope_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotherio/cancelable-go/registry"
	"github.com/hotherio/cancelable-go/scope"
	"github.com/hotherio/cancelable-go/token"
)

func TestRun_CompletesNormally(t *testing.T) {
	s := scope.New()
	err := s.Run(context.Background(), func(ctx context.Context, sc *scope.Scope) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, scope.StatusCompleted, s.StatusValue())
}

func TestRun_UserErrorYieldsFailed(t *testing.T) {
	s := scope.New()
	boom := errors.New("boom")
	err := s.Run(context.Background(), func(ctx context.Context, sc *scope.Scope) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, scope.StatusFailed, s.StatusValue())
}

func TestRun_PanicIsRecoveredAsFailed(t *testing.T) {
	s := scope.New()
	err := s.Run(context.Background(), func(ctx context.Context, sc *scope.Scope) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Equal(t, scope.StatusFailed, s.StatusValue())
}

func TestRun_TimeoutFiresWithinWindow(t *testing.T) {
	s, err := scope.NewWithTimeout(30 * time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	runErr := s.Run(context.Background(), func(ctx context.Context, sc *scope.Scope) error {
		<-sc.Token().Done()
		return sc.Token().RaiseIfCancelled()
	})
	elapsed := time.Since(start)

	require.Error(t, runErr)
	assert.True(t, errors.Is(runErr, context.Canceled))
	assert.Equal(t, scope.StatusCancelled, s.StatusValue())
	assert.Equal(t, token.ReasonTimeout, s.Snapshot().CancelReason)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestRun_ManualCancelBeatsTimeout(t *testing.T) {
	s, err := scope.NewWithTimeout(time.Hour)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Cancel(token.ReasonManual, "stop", true)
	}()

	runErr := s.Run(context.Background(), func(ctx context.Context, sc *scope.Scope) error {
		<-sc.Token().Done()
		return sc.Token().RaiseIfCancelled()
	})

	require.Error(t, runErr)
	assert.Equal(t, token.ReasonManual, s.Snapshot().CancelReason)
	assert.Equal(t, "stop", s.Snapshot().CancelMessage)
}

func TestParentCancel_PropagatesToChildWithReasonParent(t *testing.T) {
	parent := scope.New()
	child := scope.New(scope.WithParentScope(parent))

	childDone := make(chan error, 1)
	go func() {
		childDone <- child.Run(context.Background(), func(ctx context.Context, sc *scope.Scope) error {
			<-sc.Token().Done()
			return sc.Token().RaiseIfCancelled()
		})
	}()

	// Give the child a moment to enter and link before the parent cancels.
	time.Sleep(10 * time.Millisecond)
	parent.Cancel(token.ReasonManual, "shutdown", true)

	select {
	case err := <-childDone:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("child never observed parent cancellation")
	}
	assert.Equal(t, token.ReasonParent, child.Snapshot().CancelReason)
}

func TestOnStartOnCompleteCallbacksFire(t *testing.T) {
	var started, completed atomic.Bool
	s := scope.New().
		OnStart(func(scope.Context) { started.Store(true) }).
		OnComplete(func(scope.Context) { completed.Store(true) })

	err := s.Run(context.Background(), func(context.Context, *scope.Scope) error { return nil })
	require.NoError(t, err)
	assert.True(t, started.Load())
	assert.True(t, completed.Load())
}

func TestOnCancelCallbackFires(t *testing.T) {
	var cancelled atomic.Bool
	s := scope.New().OnCancel(func(scope.Context) { cancelled.Store(true) })

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.Cancel(token.ReasonManual, "stop", true)
	}()
	_ = s.Run(context.Background(), func(ctx context.Context, sc *scope.Scope) error {
		<-sc.Token().Done()
		return sc.Token().RaiseIfCancelled()
	})
	assert.True(t, cancelled.Load())
}

func TestReportProgress_FansOutToCallbacks(t *testing.T) {
	var gotMsg string
	s := scope.New().OnProgress(func(msg string, md map[string]any) { gotMsg = msg })
	s.ReportProgress("halfway", nil)
	assert.Equal(t, "halfway", gotMsg)
}

func TestFromContext_ReturnsTheRunningScope(t *testing.T) {
	s := scope.New(scope.WithName("outer"))
	var seen *scope.Scope
	_ = s.Run(context.Background(), func(ctx context.Context, sc *scope.Scope) error {
		v, ok := scope.FromContext(ctx)
		if ok {
			seen = v
		}
		return nil
	})
	assert.Same(t, s, seen)
}

func TestWrap_RunsFnInsideScope(t *testing.T) {
	s := scope.New()
	var ran bool
	wrapped := s.Wrap(func(ctx context.Context, sc *scope.Scope) error {
		ran = true
		return nil
	})
	require.NoError(t, wrapped(context.Background()))
	assert.True(t, ran)
}

func TestRegister_AddsAndRemovesFromRegistry(t *testing.T) {
	reg := registry.New()
	s := scope.New(scope.WithRegister(true), scope.WithRegistry(reg))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(context.Background(), func(ctx context.Context, sc *scope.Scope) error {
			_, stillLive := reg.Get(sc.ID())
			assert.True(t, stillLive)
			return nil
		})
	}()
	<-done

	_, live := reg.Get(s.ID())
	assert.False(t, live)
	hist := reg.History(0, nil, time.Time{})
	require.Len(t, hist, 1)
	assert.Equal(t, s.ID(), hist[0].ID)
}

func TestBulkCancelViaRegistry(t *testing.T) {
	reg := registry.New()
	const n = 3
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		s := scope.New(scope.WithRegister(true), scope.WithRegistry(reg))
		go func() {
			done <- s.Run(context.Background(), func(ctx context.Context, sc *scope.Scope) error {
				<-sc.Token().Done()
				return sc.Token().RaiseIfCancelled()
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)

	running := registry.StatusRunning
	cancelled := reg.CancelAll(registry.Filter{Status: &running}, token.ReasonManual, "bulk stop")
	assert.Equal(t, n, cancelled)

	for i := 0; i < n; i++ {
		select {
		case err := <-done:
			require.Error(t, err)
		case <-time.After(time.Second):
			t.Fatal("scope never observed bulk cancel")
		}
	}
}
