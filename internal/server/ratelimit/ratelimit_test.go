package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestLimiter(cfg *Config) (*Limiter, *time.Time) {
	l := NewLimiter(cfg)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(&Config{
		Enabled: true,
		Default: EndpointConfig{Rate: 1, Burst: 3},
	})

	for i := 0; i < 3; i++ {
		ok, info := l.Allow("10.0.0.1", "/runs", "GET")
		require.True(t, ok, "request %d", i+1)
		assert.Equal(t, 3, info.Limit)
		assert.Equal(t, 2-i, info.Remaining)
	}

	ok, info := l.Allow("10.0.0.1", "/runs", "GET")
	assert.False(t, ok)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, time.Second, info.RetryAfter)
}

func TestLimiter_Refill(t *testing.T) {
	l, now := newTestLimiter(&Config{
		Enabled: true,
		Default: EndpointConfig{Rate: 1, Burst: 1},
	})

	ok, _ := l.Allow("c", "/runs", "GET")
	require.True(t, ok)
	ok, _ = l.Allow("c", "/runs", "GET")
	require.False(t, ok)

	*now = now.Add(1100 * time.Millisecond)
	ok, _ = l.Allow("c", "/runs", "GET")
	assert.True(t, ok)
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(&Config{
		Enabled: true,
		Default: EndpointConfig{Rate: 1, Burst: 1},
	})

	ok, _ := l.Allow("a", "/runs", "GET")
	assert.True(t, ok)
	ok, _ = l.Allow("b", "/runs", "GET")
	assert.True(t, ok)
	ok, _ = l.Allow("a", "/runs", "GET")
	assert.False(t, ok)
}

func TestLimiter_PrefixSharesBucket(t *testing.T) {
	l, _ := newTestLimiter(DefaultConfig(100, 100))

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("c", "/runs/"+string(rune('a'+i))+"/resume", "POST")
		require.True(t, ok)
	}
	ok, _ := l.Allow("c", "/runs/z/resume", "POST")
	assert.False(t, ok)

	// reads are on the default budget
	ok, _ = l.Allow("c", "/runs/z", "GET")
	assert.True(t, ok)
}

func TestLimiter_UnlimitedAndExempt(t *testing.T) {
	cfg := DefaultConfig(1, 1)
	cfg.Exempt["127.0.0.1"] = true
	l, _ := newTestLimiter(cfg)

	for i := 0; i < 10; i++ {
		ok, info := l.Allow("c", "/health", "GET")
		require.True(t, ok)
		assert.Zero(t, info.Limit)

		ok, _ = l.Allow("127.0.0.1", "/runs", "POST")
		require.True(t, ok)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(DefaultConfig(0, 0))
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow("c", "/runs", "POST")
		require.True(t, ok)
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l, now := newTestLimiter(&Config{
		Enabled: true,
		Default: EndpointConfig{Rate: 1, Burst: 1},
		IdleTTL: time.Minute,
	})
	l.Allow("a", "/runs", "GET")
	*now = now.Add(30 * time.Second)
	l.Allow("b", "/runs", "GET")
	*now = now.Add(45 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Len(t, l.visitors, 1)
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(&Config{
		Enabled: true,
		Default: EndpointConfig{Rate: rate.Every(time.Hour), Burst: 50},
	})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("c", "/runs", "GET"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs()

	tests := []struct {
		path, method string
		want         string
	}{
		{"/runs", "POST", "/runs"},
		{"/runs/stream", "POST", "/runs/stream"},
		{"/runs/123/resume", "POST", "/runs/"},
		{"/runs", "GET", ""},
		{"/health", "GET", "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			got := MatchEndpoint(tt.path, tt.method, configs)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Path)
		})
	}
}
