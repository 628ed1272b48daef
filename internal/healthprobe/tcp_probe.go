package healthprobe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Attempts  int    `json:"attempts"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// DialFunc opens a connection; net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober checks that a freshly created server accepts TCP connections.
type Prober struct {
	dial  DialFunc
	sleep func(ctx context.Context, d time.Duration) error
}

func NewProber() *Prober {
	var d net.Dialer
	return &Prober{dial: d.DialContext, sleep: sleepCtx}
}

// NewProberWithDialer is used by tests and by callers that route probes through a proxy.
func NewProberWithDialer(dial DialFunc) *Prober {
	return &Prober{dial: dial, sleep: sleepCtx}
}

// CheckTCP tries to connect up to retries times, waiting retryDelaySec between
// attempts. It never returns an error: a failed probe is a Result with Success false.
func (p *Prober) CheckTCP(ctx context.Context, host string, port, timeoutSec, retries, retryDelaySec int) Result {
	if retries < 1 {
		retries = 1
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))
	timeout := time.Duration(timeoutSec) * time.Second
	delay := time.Duration(retryDelaySec) * time.Second
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := p.dial(attemptCtx, "tcp", address)
		cancel()
		if err == nil {
			conn.Close()
			slog.Info("tcp probe succeeded", slog.String("address", address), slog.Int("attempt", attempt))
			return Result{
				Success:   true,
				Message:   fmt.Sprintf("TCP connection successful on attempt %d", attempt),
				Attempts:  attempt,
				ElapsedMs: time.Since(start).Milliseconds(),
			}
		}
		lastErr = err
		slog.Warn("tcp probe attempt failed",
			slog.String("address", address),
			slog.Int("attempt", attempt),
			slog.Int("retries", retries),
			slog.Any("error", err))

		if attempt < retries {
			if err := p.sleep(ctx, delay); err != nil {
				return Result{
					Message:   fmt.Sprintf("TCP probe cancelled after %d attempts: %v", attempt, err),
					Attempts:  attempt,
					ElapsedMs: time.Since(start).Milliseconds(),
				}
			}
		}
	}

	return Result{
		Message:   fmt.Sprintf("TCP connection failed after %d attempts: %v", retries, lastErr),
		Attempts:  retries,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
}

// SelectHost picks the probe target: operator override, then allocation alias, then raw IP.
func SelectHost(override, alias, ip string) string {
	switch {
	case override != "":
		return override
	case alias != "":
		return alias
	default:
		return ip
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
