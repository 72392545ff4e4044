package source_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotherio/cancelable-go/source"
	"github.com/hotherio/cancelable-go/token"
)

func TestNewTimeout_RejectsNonPositiveDuration(t *testing.T) {
	_, err := source.NewTimeout(0)
	assert.ErrorIs(t, err, source.ErrInvalidDuration)

	_, err = source.NewTimeout(-time.Second)
	assert.ErrorIs(t, err, source.ErrInvalidDuration)
}

func TestTimeout_FiresAfterDuration(t *testing.T) {
	tm, err := source.NewTimeout(20 * time.Millisecond)
	require.NoError(t, err)

	tok := token.New()
	tm.StartMonitoring(tok)
	defer tm.StopMonitoring()

	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout source never fired")
	}

	assert.Equal(t, token.ReasonTimeout, tok.ReasonValue())
	assert.True(t, tm.Triggered())
}

func TestTimeout_StopMonitoringPreventsFiring(t *testing.T) {
	tm, err := source.NewTimeout(20 * time.Millisecond)
	require.NoError(t, err)

	tok := token.New()
	tm.StartMonitoring(tok)
	tm.StopMonitoring()

	select {
	case <-tok.Done():
		t.Fatal("token cancelled despite StopMonitoring")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimeout_NameDefaultsAndOverrides(t *testing.T) {
	tm, err := source.NewTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "timeout", tm.Name())

	tm2, err := source.NewTimeout(time.Second, source.WithName("request-deadline"))
	require.NoError(t, err)
	assert.Equal(t, "request-deadline", tm2.Name())
}
