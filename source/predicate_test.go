package source_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotherio/cancelable-go/source"
	"github.com/hotherio/cancelable-go/token"
)

func TestNewPredicate_RejectsNonPositiveInterval(t *testing.T) {
	_, err := source.NewPredicate(func(context.Context) (bool, error) { return false, nil }, 0, "c")
	assert.ErrorIs(t, err, source.ErrInvalidDuration)
}

func TestPredicate_FiresWhenConditionBecomesTrue(t *testing.T) {
	var calls atomic.Int32
	cond := func(context.Context) (bool, error) {
		return calls.Add(1) >= 3, nil
	}

	p, err := source.NewPredicate(cond, 5*time.Millisecond, "three-calls")
	require.NoError(t, err)

	tok := token.New()
	p.StartMonitoring(tok)
	defer p.StopMonitoring()

	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("predicate never fired")
	}

	assert.Equal(t, token.ReasonCondition, tok.ReasonValue())
	assert.GreaterOrEqual(t, p.Checks(), int64(3))
}

func TestPredicate_SwallowsErrorsAndKeepsPolling(t *testing.T) {
	var calls atomic.Int32
	cond := func(context.Context) (bool, error) {
		n := calls.Add(1)
		if n < 3 {
			return false, errors.New("transient")
		}
		return true, nil
	}

	p, err := source.NewPredicate(cond, 5*time.Millisecond, "flaky")
	require.NoError(t, err)

	tok := token.New()
	p.StartMonitoring(tok)
	defer p.StopMonitoring()

	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("predicate never recovered from errors")
	}
}

func TestPredicate_PanicIsRecoveredAndLogged(t *testing.T) {
	var calls atomic.Int32
	cond := func(context.Context) (bool, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return true, nil
	}

	p, err := source.NewPredicate(cond, 5*time.Millisecond, "panicky")
	require.NoError(t, err)

	tok := token.New()
	p.StartMonitoring(tok)
	defer p.StopMonitoring()

	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("predicate never recovered from panic")
	}
}

func TestPredicate_StopMonitoringIsIdempotentAndBlocksUntilDone(t *testing.T) {
	cond := func(context.Context) (bool, error) { return false, nil }
	p, err := source.NewPredicate(cond, 5*time.Millisecond, "never")
	require.NoError(t, err)

	tok := token.New()
	p.StartMonitoring(tok)
	p.StopMonitoring()
	p.StopMonitoring()

	assert.False(t, tok.IsCancelled())
}
