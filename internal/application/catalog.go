package application

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// DefaultCatalogTTL is how long a fetched catalog is served from cache.
const DefaultCatalogTTL = 10 * time.Minute

// catalogProviders fixes the order providers appear in a catalog.
var catalogProviders = []struct {
	name  string
	label string
}{
	{domain.ProviderGemini, "Google Gemini"},
	{domain.ProviderOpenAI, "OpenAI"},
	{domain.ProviderAnthropic, "Anthropic"},
}

var (
	openAIChatPrefixes = []string{"gpt-4", "gpt-3.5", "o1", "o3", "o4"}
	openAIExcluded     = []string{"instruct", "realtime", "audio", "search", "tts", "whisper", "dall-e", "embedding"}
)

// ModelInfo is one selectable model.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProviderModels groups the models of one provider.
type ProviderModels struct {
	Provider string      `json:"provider"`
	Label    string      `json:"label"`
	Models   []ModelInfo `json:"models"`
}

// Catalog lists the models of every configured provider that returned at
// least one model.
type Catalog struct {
	Providers []ProviderModels `json:"providers"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// ModelCatalog caches the provider model listings. Concurrent refreshes are
// collapsed into one round of provider calls.
type ModelCatalog struct {
	lister ports.ModelLister
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	group singleflight.Group

	// mu guards cached and expires.
	mu      sync.Mutex
	cached  *Catalog
	expires time.Time
}

// NewModelCatalog creates a catalog over lister. A non-positive ttl means
// DefaultCatalogTTL.
func NewModelCatalog(lister ports.ModelLister, ttl time.Duration, logger *slog.Logger) *ModelCatalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelCatalog{lister: lister, ttl: ttl, logger: logger, now: time.Now}
}

// Models returns the cached catalog, fetching it when the cache is empty,
// expired, or refresh is set.
func (c *ModelCatalog) Models(ctx context.Context, refresh bool) (*Catalog, error) {
	if !refresh {
		if cat := c.fresh(); cat != nil {
			return cat, nil
		}
	}

	v, err, _ := c.group.Do("catalog", func() (any, error) {
		cat := c.fetch(context.WithoutCancel(ctx))

		c.mu.Lock()
		c.cached = cat
		c.expires = cat.FetchedAt.Add(c.ttl)
		c.mu.Unlock()
		return cat, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Catalog), nil
}

// Invalidate drops the cached catalog.
func (c *ModelCatalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
	c.expires = time.Time{}
}

func (c *ModelCatalog) fresh() *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil && c.now().Before(c.expires) {
		return c.cached
	}
	return nil
}

// fetch lists every configured provider concurrently. A provider that fails
// is logged and left out.
func (c *ModelCatalog) fetch(ctx context.Context) *Catalog {
	configured := make(map[string]bool)
	for _, p := range c.lister.ConfiguredProviders() {
		configured[p] = true
	}

	results := make([]ProviderModels, len(catalogProviders))
	var g errgroup.Group
	for i, p := range catalogProviders {
		if !configured[p.name] {
			continue
		}
		g.Go(func() error {
			ids, err := c.lister.ListModels(ctx, p.name)
			if err != nil {
				c.logger.Warn("failed to list models", "provider", p.name, "error", err)
				return nil
			}
			results[i] = ProviderModels{
				Provider: p.name,
				Label:    p.label,
				Models:   catalogModels(p.name, ids),
			}
			return nil
		})
	}
	_ = g.Wait()

	cat := &Catalog{Providers: []ProviderModels{}, FetchedAt: c.now()}
	for _, pm := range results {
		if len(pm.Models) > 0 {
			cat.Providers = append(cat.Providers, pm)
		}
	}
	return cat
}

// catalogModels filters ids to the chat-capable models of provider, sorted
// newest first by id.
func catalogModels(provider string, ids []string) []ModelInfo {
	models := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		if provider == domain.ProviderOpenAI && !isOpenAIChatModel(id) {
			continue
		}
		models = append(models, ModelInfo{ID: id, Name: id})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID > models[j].ID })
	return models
}

func isOpenAIChatModel(id string) bool {
	chat := false
	for _, p := range openAIChatPrefixes {
		if strings.HasPrefix(id, p) {
			chat = true
			break
		}
	}
	if !chat {
		return false
	}
	for _, ex := range openAIExcluded {
		if strings.Contains(id, ex) {
			return false
		}
	}
	return true
}
