// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-encstore.
//
// go-encstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(ctx context.Context) CheckResult {
	return CheckResult{Status: StatusHealthy}
}

func TestNewChecker(t *testing.T) {
	c := NewChecker()
	assert.False(t, c.IsStarted())
	assert.Empty(t, c.GetAllChecks())
	assert.Equal(t, DefaultCheckTimeout, c.timeout)

	c = NewChecker(WithCheckTimeout(time.Second), WithCheckTimeout(-1))
	assert.Equal(t, time.Second, c.timeout)
}

func TestRegisterAndUnregister(t *testing.T) {
	c := NewChecker()
	c.RegisterCheck("storage", healthy)
	c.RegisterCheck("crypto", healthy)
	c.RegisterCheck("ignored", nil)
	assert.Equal(t, []string{"crypto", "storage"}, c.GetAllChecks())

	c.UnregisterCheck("storage")
	assert.Equal(t, []string{"crypto"}, c.GetAllChecks())
}

func TestLive(t *testing.T) {
	c := NewChecker()
	c.RegisterCheck("broken", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy}
	})
	assert.Equal(t, StatusHealthy, c.Live(context.Background()).Status)
}

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   []Status
		agg    Status
	}{
		{
			name: "no checks",
			want: []Status{StatusHealthy},
			agg:  StatusHealthy,
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"a": healthy,
				"b": healthy,
			},
			want: []Status{StatusHealthy, StatusHealthy},
			agg:  StatusHealthy,
		},
		{
			name: "degraded",
			checks: map[string]CheckFunc{
				"a": healthy,
				"b": func(ctx context.Context) CheckResult { return CheckResult{Status: StatusDegraded} },
			},
			want: []Status{StatusHealthy, StatusDegraded},
			agg:  StatusDegraded,
		},
		{
			name: "unhealthy wins",
			checks: map[string]CheckFunc{
				"a": func(ctx context.Context) CheckResult { return CheckResult{Status: StatusUnhealthy} },
				"b": func(ctx context.Context) CheckResult { return CheckResult{Status: StatusDegraded} },
			},
			want: []Status{StatusUnhealthy, StatusDegraded},
			agg:  StatusUnhealthy,
		},
		{
			name: "missing status is unhealthy",
			checks: map[string]CheckFunc{
				"a": func(ctx context.Context) CheckResult { return CheckResult{} },
			},
			want: []Status{StatusUnhealthy},
			agg:  StatusUnhealthy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, fn := range tt.checks {
				c.RegisterCheck(name, fn)
			}
			results := c.Ready(context.Background())
			require.Len(t, results, len(tt.want))
			for i, r := range results {
				assert.Equal(t, tt.want[i], r.Status, r.Name)
				assert.NotEmpty(t, r.Name)
			}
			assert.Equal(t, tt.agg, AggregateStatus(results))
			assert.Equal(t, tt.agg == StatusHealthy, c.IsHealthy(context.Background()))
		})
	}
}

func TestReadyOrderedByName(t *testing.T) {
	c := NewChecker()
	for _, n := range []string{"zeta", "alpha", "mu"} {
		c.RegisterCheck(n, healthy)
	}
	results := c.Ready(context.Background())
	names := []string{results[0].Name, results[1].Name, results[2].Name}
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, names)
}

func TestReadyAppliesTimeout(t *testing.T) {
	c := NewChecker(WithCheckTimeout(20 * time.Millisecond))
	c.RegisterCheck("slow", CheckFromFunc("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}))

	start := time.Now()
	results := c.Ready(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, results, 1)
	assert.Equal(t, StatusUnhealthy, results[0].Status)
	assert.Contains(t, results[0].Error, "deadline exceeded")
	assert.Greater(t, results[0].Latency, time.Duration(0))
}

func TestCheckFromFunc(t *testing.T) {
	ok := CheckFromFunc("crypto", func(context.Context) error { return nil })(context.Background())
	assert.Equal(t, CheckResult{Name: "crypto", Status: StatusHealthy}, ok)

	bad := CheckFromFunc("storage", func(context.Context) error { return errors.New("disk gone") })(context.Background())
	assert.Equal(t, StatusUnhealthy, bad.Status)
	assert.Equal(t, "disk gone", bad.Error)
}

func TestStartup(t *testing.T) {
	c := NewChecker()
	assert.Equal(t, StatusUnhealthy, c.Startup(context.Background()).Status)
	c.MarkStarted()
	assert.True(t, c.IsStarted())
	r := c.Startup(context.Background())
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Contains(t, r.Message, "uptime")
	c.MarkNotStarted()
	assert.Equal(t, StatusUnhealthy, c.Startup(context.Background()).Status)
}

func TestUptime(t *testing.T) {
	c := NewChecker()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, c.Uptime(), 5*time.Millisecond)
}

func TestConcurrency(t *testing.T) {
	c := NewChecker()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); c.RegisterCheck("a", healthy) }()
		go func() { defer wg.Done(); _ = c.Ready(context.Background()) }()
		go func() { defer wg.Done(); c.UnregisterCheck("a") }()
	}
	wg.Wait()
}
