package ping

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProber_Reachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	prober := NewProber([]int{port}, time.Second, time.Minute)

	assert.True(t, prober.Reachable(context.Background(), "127.0.0.1"))
}

func TestProber_Unreachable(t *testing.T) {
	// Grab a free port and close it again so nothing listens there.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	prober := NewProber([]int{port}, 200*time.Millisecond, time.Minute)

	assert.False(t, prober.Reachable(context.Background(), "127.0.0.1"))
}

func TestProber_EmptyAddr(t *testing.T) {
	prober := NewProber(nil, 200*time.Millisecond, time.Minute)
	assert.False(t, prober.Reachable(context.Background(), ""))
}

func TestProber_CachesResult(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := listener.Addr().(*net.TCPAddr).Port
	prober := NewProber([]int{port}, time.Second, time.Minute)

	assert.True(t, prober.Reachable(context.Background(), "127.0.0.1"))

	// The listener is gone, but the cached answer still stands.
	require.NoError(t, listener.Close())
	assert.True(t, prober.Reachable(context.Background(), "127.0.0.1"))
}
