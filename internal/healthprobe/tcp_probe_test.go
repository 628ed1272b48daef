package healthprobe

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flakyDialer(failures int) (DialFunc, *int) {
	calls := 0
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		calls++
		if calls <= failures {
			return nil, errors.New("connection refused")
		}
		client, server := net.Pipe()
		server.Close()
		return client, nil
	}, &calls
}

func TestCheckTCP_SucceedsOnThirdAttempt(t *testing.T) {
	dial, calls := flakyDialer(2)
	p := NewProberWithDialer(dial)
	p.sleep = func(context.Context, time.Duration) error { return nil }

	res := p.CheckTCP(context.Background(), "play.example.com", 25565, 5, 3, 2)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, "TCP connection successful on attempt 3", res.Message)
}

func TestCheckTCP_FailsAfterRetries(t *testing.T) {
	dial, calls := flakyDialer(10)
	p := NewProberWithDialer(dial)
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	res := p.CheckTCP(context.Background(), "10.0.0.1", 25565, 1, 3, 2)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, *calls)
	assert.Contains(t, res.Message, "TCP connection failed after 3 attempts")
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, slept)
}

func TestCheckTCP_StopsWhenContextCancelled(t *testing.T) {
	dial, calls := flakyDialer(10)
	p := NewProberWithDialer(dial)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.CheckTCP(ctx, "10.0.0.1", 25565, 1, 5, 1)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, *calls)
}

func TestCheckTCP_RealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	res := NewProber().CheckTCP(context.Background(), "127.0.0.1", port, 2, 1, 0)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
}

func TestSelectHost(t *testing.T) {
	assert.Equal(t, "probe.internal", SelectHost("probe.internal", "node1.example.com", "10.0.0.1"))
	assert.Equal(t, "node1.example.com", SelectHost("", "node1.example.com", "10.0.0.1"))
	assert.Equal(t, "10.0.0.1", SelectHost("", "", "10.0.0.1"))
}
