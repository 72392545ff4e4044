package source_test

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotherio/cancelable-go/bridge"
	"github.com/hotherio/cancelable-go/source"
	"github.com/hotherio/cancelable-go/token"
)

func TestSignal_FiresOnDelivery(t *testing.T) {
	b := bridge.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	sig := source.NewSignal([]os.Signal{syscall.SIGUSR1}, source.WithBridge(b))
	tok := token.New()
	sig.StartMonitoring(tok)
	defer sig.StopMonitoring()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("signal source never fired")
	}

	assert.Equal(t, token.ReasonSignal, tok.ReasonValue())
}

func TestSignal_NilSignalListConstructsNamedSource(t *testing.T) {
	sig := source.NewSignal(nil)
	assert.Equal(t, "signal", sig.Name())
}

func TestSignal_StopMonitoringIsIdempotent(t *testing.T) {
	sig := source.NewSignal([]os.Signal{syscall.SIGUSR2})
	tok := token.New()
	sig.StartMonitoring(tok)
	sig.StopMonitoring()
	sig.StopMonitoring()

	assert.False(t, tok.IsCancelled())
}
