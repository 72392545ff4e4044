package scope_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotherio/cancelable-go/scope"
	"github.com/hotherio/cancelable-go/token"
)

func TestCombine_FiresOnFirstComponentWithItsReason(t *testing.T) {
	fast, err := scope.NewWithTimeout(10 * time.Millisecond)
	require.NoError(t, err)
	slow, err := scope.NewWithTimeout(time.Hour)
	require.NoError(t, err)

	combined := fast.Combine(slow)

	// Combine's component sources are only armed once the combined Scope is
	// actually Run - see combine's doc comment.
	err = combined.Run(context.Background(), func(ctx context.Context, sc *scope.Scope) error {
		<-sc.Token().Done()
		return sc.Token().RaiseIfCancelled()
	})
	require.Error(t, err)
	assert.Equal(t, token.ReasonTimeout, combined.Token().ReasonValue())
}

func TestCombine_DoesNotAlterInputs(t *testing.T) {
	a := scope.New()
	b := scope.New()
	combined := a.Combine(b)

	a.Cancel(token.ReasonManual, "a stopped", false)

	select {
	case <-combined.Token().Done():
	case <-time.After(time.Second):
		t.Fatal("combined scope never observed component cancellation")
	}
	assert.False(t, b.Token().IsCancelled())
}

func TestCombineAll_RequiresEveryComponent(t *testing.T) {
	a := scope.New()
	b := scope.New()
	combined := a.CombineAll(b)

	a.Cancel(token.ReasonManual, "a stopped", false)

	select {
	case <-combined.Token().Done():
		t.Fatal("combine(all) fired before every component did")
	case <-time.After(20 * time.Millisecond):
	}

	b.Cancel(token.ReasonTimeout, "b timed out", false)

	select {
	case <-combined.Token().Done():
	case <-time.After(time.Second):
		t.Fatal("combine(all) never fired once every component did")
	}
}

func TestCombineThenCombine_FiresOnFirstOfThree(t *testing.T) {
	a := scope.New()
	b := scope.New()
	c := scope.New()
	combined := a.Combine(b).Combine(c)

	c.Cancel(token.ReasonCondition, "condition met", false)

	select {
	case <-combined.Token().Done():
	case <-time.After(time.Second):
		t.Fatal("chained combine never fired")
	}
	assert.Equal(t, token.ReasonCondition, combined.Token().ReasonValue())
}

func TestCombinedScope_RunsLikeAnyOtherScope(t *testing.T) {
	a := scope.New()
	b := scope.New()
	combined := a.Combine(b)

	go func() {
		time.Sleep(10 * time.Millisecond)
		a.Cancel(token.ReasonManual, "go", false)
	}()

	err := combined.Run(context.Background(), func(ctx context.Context, sc *scope.Scope) error {
		<-sc.Token().Done()
		return sc.Token().RaiseIfCancelled()
	})
	require.Error(t, err)
}
