package middleware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	ServerTimingHeader = "Server-Timing"
	serverTimingKey    = "server_timing"
)

type serverTiming struct {
	mu      sync.Mutex
	entries []string
}

// ServerTiming adds a Server-Timing response header with the total handler
// time and any stages recorded through AddServerTiming.
func ServerTiming() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			st := &serverTiming{}
			c.Set(serverTimingKey, st)
			c.Response().Before(func() {
				st.mu.Lock()
				defer st.mu.Unlock()
				metrics := append([]string{timingEntry("total", time.Since(start))}, st.entries...)
				c.Response().Header().Set(ServerTimingHeader, strings.Join(metrics, ", "))
			})
			return next(c)
		}
	}
}

// AddServerTiming records a stage duration for the Server-Timing header. It
// is a no-op when the middleware is not installed.
func AddServerTiming(c echo.Context, name string, d time.Duration) {
	st, ok := c.Get(serverTimingKey).(*serverTiming)
	if !ok {
		return
	}
	st.mu.Lock()
	st.entries = append(st.entries, timingEntry(name, d))
	st.mu.Unlock()
}

func timingEntry(name string, d time.Duration) string {
	return fmt.Sprintf("%s;dur=%.3f", name, float64(d)/float64(time.Millisecond))
}
