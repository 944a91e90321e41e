package admission

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Client returns the pooled HTTP client for origin, creating it lazily.
// Per-call timeouts belong to the caller (the circuit breaker); the
// client itself only bounds dialing and idle connection lifetime.
func (c *Controller) Client(origin string) *http.Client {
	c.tmutex.RLock()
	client, exists := c.clients[origin]
	c.tmutex.RUnlock()

	if exists {
		return client
	}

	c.tmutex.Lock()
	defer c.tmutex.Unlock()

	// Double-check: another goroutine may have created it
	if client, exists = c.clients[origin]; exists {
		return client
	}

	dialer := &net.Dialer{
		Timeout:   c.cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	client = &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxConnsPerHost:     c.cfg.MaxConnections,
			MaxIdleConns:        c.cfg.MaxConnections,
			MaxIdleConnsPerHost: c.cfg.MaxConnections,
			IdleConnTimeout:     c.cfg.KeepAliveTimeout,
			TLSHandshakeTimeout: c.cfg.ConnectTimeout,
		},
	}

	c.clients[origin] = client
	return client
}

// Warmup pre-establishes up to n connections to origin ahead of an
// anticipated burst. Best effort: failures are logged and ignored.
func (c *Controller) Warmup(ctx context.Context, origin string, n int) {
	client := c.Client(origin)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			req, err := http.NewRequestWithContext(ctx, http.MethodHead, origin+"/", nil)
			if err != nil {
				return
			}

			res, err := client.Do(req)
			if err != nil {
				c.logger.Debug("Warmup connection failed",
					slog.String("origin", origin),
					slog.Any("err", err))
				return
			}
			io.Copy(io.Discard, res.Body)
			res.Body.Close()
		}()
	}
	wg.Wait()

	c.logger.Info("Connection warmup finished",
		slog.String("origin", origin),
		slog.Int("requested", n))
}

// Shutdown closes all idle pooled connections and tears down per-origin
// state.
func (c *Controller) Shutdown() {
	c.tmutex.Lock()
	for origin, client := range c.clients {
		if t, ok := client.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
		delete(c.clients, origin)
	}
	c.tmutex.Unlock()

	c.mutex.Lock()
	c.origins = make(map[string]*originState)
	c.mutex.Unlock()
}
