package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/testutils"
)

type fakeLister struct {
	configured []string
	models     map[string][]string
	errs       map[string]error
	// gate, when set, blocks ListModels until closed.
	gate  chan struct{}
	calls atomic.Int32
}

func (f *fakeLister) ConfiguredProviders() []string { return f.configured }

func (f *fakeLister) ListModels(_ context.Context, provider string) ([]string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if err := f.errs[provider]; err != nil {
		return nil, err
	}
	return f.models[provider], nil
}

func TestModelCatalog_Models(t *testing.T) {
	lister := &fakeLister{
		configured: []string{"anthropic", "gemini", "openai"},
		models: map[string][]string{
			"gemini":    {"gemini-2.5-flash", "gemini-3-pro-preview"},
			"openai":    {"gpt-4o", "gpt-4o-realtime-preview", "text-embedding-3-small", "o3-mini", "whisper-1"},
			"anthropic": {"claude-sonnet-4-5", "claude-haiku-4-5"},
		},
	}
	cat, err := NewModelCatalog(lister, 0, testutils.DiscardLogger()).Models(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, cat.Providers, 3)
	assert.Equal(t, "gemini", cat.Providers[0].Provider)
	assert.Equal(t, "Google Gemini", cat.Providers[0].Label)
	assert.Equal(t, []ModelInfo{
		{ID: "gemini-3-pro-preview", Name: "gemini-3-pro-preview"},
		{ID: "gemini-2.5-flash", Name: "gemini-2.5-flash"},
	}, cat.Providers[0].Models)

	assert.Equal(t, "openai", cat.Providers[1].Provider)
	assert.Equal(t, []ModelInfo{
		{ID: "o3-mini", Name: "o3-mini"},
		{ID: "gpt-4o", Name: "gpt-4o"},
	}, cat.Providers[1].Models)

	assert.Equal(t, "anthropic", cat.Providers[2].Provider)
	assert.Len(t, cat.Providers[2].Models, 2)
}

func TestModelCatalog_SkipsFailingAndUnconfigured(t *testing.T) {
	lister := &fakeLister{
		configured: []string{"gemini", "openai"},
		models: map[string][]string{
			"gemini":    {"gemini-2.5-flash"},
			"anthropic": {"claude-sonnet-4-5"},
		},
		errs: map[string]error{"openai": errors.New("401 unauthorized")},
	}
	cat, err := NewModelCatalog(lister, 0, testutils.DiscardLogger()).Models(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, cat.Providers, 1)
	assert.Equal(t, "gemini", cat.Providers[0].Provider)
	assert.Equal(t, int32(2), lister.calls.Load(), "Unconfigured providers should not be called")
}

func TestModelCatalog_NoProviders(t *testing.T) {
	cat, err := NewModelCatalog(&fakeLister{}, 0, nil).Models(context.Background(), false)
	require.NoError(t, err)
	assert.NotNil(t, cat.Providers)
	assert.Empty(t, cat.Providers)
}

func TestModelCatalog_Cache(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{
		configured: []string{"gemini"},
		models:     map[string][]string{"gemini": {"gemini-2.5-flash"}},
	}
	c := NewModelCatalog(lister, time.Minute, testutils.DiscardLogger())
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	tests := []struct {
		name      string
		advance   time.Duration
		refresh   bool
		invalid   bool
		wantCalls int32
	}{
		{name: "first call fetches", wantCalls: 1},
		{name: "served from cache", advance: 30 * time.Second, wantCalls: 1},
		{name: "expired cache refetches", advance: 31 * time.Second, wantCalls: 2},
		{name: "refresh bypasses cache", refresh: true, wantCalls: 3},
		{name: "cached after refresh", wantCalls: 3},
		{name: "invalidate drops cache", invalid: true, wantCalls: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now = now.Add(tt.advance)
			if tt.invalid {
				c.Invalidate()
			}

			cat, err := c.Models(ctx, tt.refresh)
			require.NoError(t, err)
			require.Len(t, cat.Providers, 1)
			assert.Equal(t, tt.wantCalls, lister.calls.Load())
		})
	}
}

func TestModelCatalog_CollapsesConcurrentRefreshes(t *testing.T) {
	lister := &fakeLister{
		configured: []string{"gemini"},
		models:     map[string][]string{"gemini": {"gemini-2.5-flash"}},
		gate:       make(chan struct{}),
	}
	c := NewModelCatalog(lister, time.Minute, testutils.DiscardLogger())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Catalog, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cat, err := c.Models(context.Background(), true)
			assert.NoError(t, err)
			results[i] = cat
		}()
	}

	require.Eventually(t, func() bool { return lister.calls.Load() >= 1 }, time.Second, time.Millisecond)
	// Let the other callers join the in-flight fetch before it completes.
	time.Sleep(20 * time.Millisecond)
	close(lister.gate)
	wg.Wait()

	assert.Less(t, lister.calls.Load(), int32(callers), "Concurrent refreshes should share fetches")
	for _, cat := range results {
		require.NotNil(t, cat)
		assert.Len(t, cat.Providers, 1)
	}
}
