// Package router selects a quality tier and provider for each generation
// task, enforces the spend budget before a request is made, and invokes
// the generation client with bounded retry, exponential backoff, and a
// single provider fallback. Actual usage is committed to the cost ledger
// and cache-eligible results are stored for reuse.
//
// Routing tables are immutable configuration passed in at construction;
// behavior for a given task is reproducible across runs.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/briefd/internal/budget"
	"github.com/fyrsmithlabs/briefd/internal/cache"
	"github.com/fyrsmithlabs/briefd/internal/config"
	"github.com/fyrsmithlabs/briefd/internal/genai"
	"github.com/fyrsmithlabs/briefd/internal/logging"
)

// ErrProviderUnavailable indicates primary and fallback providers both
// failed after their retry policies were exhausted.
var ErrProviderUnavailable = errors.New("provider unavailable")

// ErrNoModelForTier indicates no registered provider serves the tier.
var ErrNoModelForTier = errors.New("no model registered for tier")

// tierChain is the downgrade order, most capable first.
var tierChain = []string{"frontier", "high", "standard", "fast"}

// TaskSpec is one named unit of work to route.
type TaskSpec struct {
	// TaskID names the task for tier/provider lookup and cost records.
	TaskID string

	// System and Prompt form the request messages.
	System string
	Prompt string

	// Tier overrides the static task->tier mapping when non-empty.
	Tier string

	// Provider overrides the static task->provider mapping when non-empty.
	Provider string

	// MaxTokens bounds the completion length (0 = router default).
	MaxTokens int

	// Temperature for the generation call.
	Temperature float64

	// Cacheable marks the task eligible for completion caching.
	Cacheable bool
}

// Result is the outcome of one routed generation call.
type Result struct {
	Text         string        `json:"text"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Tier         string        `json:"tier"`
	CostUSD      float64       `json:"cost_usd"`
	Latency      time.Duration `json:"latency"`
	Cached       bool          `json:"cached"`
}

const defaultMaxTokens = 2048

// Router resolves and executes generation tasks.
type Router struct {
	routing   config.RoutingConfig
	providers map[string]config.ProviderConfig
	order     []string // registered provider names, sorted for determinism

	client   genai.Client
	budget   *budget.Controller
	cache    *cache.Cache
	limiters map[string]*rate.Limiter
	logger   *logging.Logger

	metrics *routerMetrics
}

// New creates a Router over immutable routing configuration.
func New(
	routing config.RoutingConfig,
	providers map[string]config.ProviderConfig,
	client genai.Client,
	budgetCtl *budget.Controller,
	completionCache *cache.Cache,
	logger *logging.Logger,
	meter metric.Meter,
) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}

	order := make([]string, 0, len(providers))
	limiters := make(map[string]*rate.Limiter, len(providers))
	for name, pc := range providers {
		order = append(order, name)
		if pc.RequestsPerSecond > 0 {
			limiters[name] = rate.NewLimiter(rate.Limit(pc.RequestsPerSecond), 1)
		}
	}
	sort.Strings(order)

	return &Router{
		routing:   routing,
		providers: providers,
		order:     order,
		client:    client,
		budget:    budgetCtl,
		cache:     completionCache,
		limiters:  limiters,
		logger:    logger.Named("router"),
		metrics:   newRouterMetrics(meter, logger.Underlying()),
	}
}

// Route executes one task through the full pipeline: cache, tier and
// provider resolution, budget authorization with tier downgrade, rate
// limiting, retried invocation with provider fallback, cost commit.
func (r *Router) Route(ctx context.Context, spec TaskSpec) (*Result, error) {
	start := time.Now()

	cacheKey := cache.Fingerprint(spec.TaskID, spec.System+"\x00"+spec.Prompt)
	if spec.Cacheable && r.cache != nil {
		if entry, ok := r.cache.Get(cacheKey); ok {
			r.metrics.recordCacheHit(ctx, spec.TaskID)
			r.logger.Debug(ctx, "cache hit", zap.String("task", spec.TaskID))
			return &Result{
				Text:         entry.Completion.Text,
				InputTokens:  entry.Completion.InputTokens,
				OutputTokens: entry.Completion.OutputTokens,
				Provider:     entry.Provider,
				Model:        entry.Model,
				Tier:         entry.Tier,
				Cached:       true,
			}, nil
		}
	}

	tier := r.resolveTier(spec)
	maxTokens := spec.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	estIn := (len(spec.System) + len(spec.Prompt)) / 4
	estOut := maxTokens

	// Authorize at the resolved tier, stepping down the tier chain while
	// the budget controller denies the estimate.
	tier, reservationID, err := r.authorizeWithDowngrade(tier, estIn, estOut)
	if err != nil {
		r.metrics.recordRoute(ctx, spec.TaskID, tier, "", "budget_exceeded")
		return nil, fmt.Errorf("route %s: %w", spec.TaskID, err)
	}

	provider, model, err := r.resolveProvider(spec, tier)
	if err != nil {
		r.budget.Release(reservationID)
		return nil, fmt.Errorf("route %s: %w", spec.TaskID, err)
	}

	completion, usedProvider, usedModel, err := r.invokeWithFallback(ctx, spec, tier, provider, model, maxTokens)
	if err != nil {
		r.budget.Release(reservationID)
		r.metrics.recordRoute(ctx, spec.TaskID, tier, provider, "failed")
		return nil, fmt.Errorf("route %s: %w", spec.TaskID, err)
	}

	actualCost := r.cost(tier, completion.InputTokens, completion.OutputTokens)
	record := budget.Record{
		RunID:        logging.RunIDFromContext(ctx),
		TaskID:       spec.TaskID,
		Provider:     usedProvider,
		Model:        usedModel,
		Tier:         tier,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		CostUSD:      actualCost,
	}
	if err := r.budget.Commit(reservationID, record); err != nil {
		return nil, fmt.Errorf("route %s: %w", spec.TaskID, err)
	}

	if spec.Cacheable && r.cache != nil {
		r.cache.Put(cacheKey, cache.Entry{
			Completion: *completion,
			Provider:   usedProvider,
			Model:      usedModel,
			Tier:       tier,
		})
	}

	latency := time.Since(start)
	r.metrics.recordRoute(ctx, spec.TaskID, tier, usedProvider, "ok")
	r.metrics.recordCost(ctx, spec.TaskID, tier, actualCost, latency)
	r.logger.Info(ctx, "task routed",
		zap.String("task", spec.TaskID),
		zap.String("tier", tier),
		zap.String("provider", usedProvider),
		zap.Float64("cost_usd", actualCost),
		zap.Duration("latency", latency),
	)

	return &Result{
		Text:         completion.Text,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		Provider:     usedProvider,
		Model:        usedModel,
		Tier:         tier,
		CostUSD:      actualCost,
		Latency:      latency,
	}, nil
}

// resolveTier applies the override, the static mapping, then the default.
func (r *Router) resolveTier(spec TaskSpec) string {
	if spec.Tier != "" {
		return spec.Tier
	}
	if tier, ok := r.routing.TaskTiers[spec.TaskID]; ok {
		return tier
	}
	return r.routing.DefaultTier
}

// authorizeWithDowngrade walks the tier chain from the requested tier
// until a reservation is granted. Returns the granted tier.
func (r *Router) authorizeWithDowngrade(tier string, estIn, estOut int) (string, string, error) {
	idx := tierIndex(tier)
	if idx < 0 {
		return "", "", fmt.Errorf("unknown tier %q", tier)
	}

	var lastErr error
	for ; idx < len(tierChain); idx++ {
		candidate := tierChain[idx]
		estimate := r.cost(candidate, estIn, estOut)
		reservationID, err := r.budget.Authorize(estimate)
		if err == nil {
			return candidate, reservationID, nil
		}
		if !errors.Is(err, budget.ErrBudgetExceeded) {
			return "", "", err
		}
		lastErr = err
	}
	return "", "", lastErr
}

// resolveProvider picks the preferred provider serving the tier:
// explicit hint, task mapping, configured default, then any registered
// provider in sorted order.
func (r *Router) resolveProvider(spec TaskSpec, tier string) (string, string, error) {
	preferences := make([]string, 0, 3+len(r.order))
	if spec.Provider != "" {
		preferences = append(preferences, spec.Provider)
	}
	if p, ok := r.routing.TaskProviders[spec.TaskID]; ok {
		preferences = append(preferences, p)
	}
	if r.routing.DefaultProvider != "" {
		preferences = append(preferences, r.routing.DefaultProvider)
	}
	preferences = append(preferences, r.order...)

	for _, name := range preferences {
		if model, ok := r.modelFor(name, tier); ok {
			return name, model, nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrNoModelForTier, tier)
}

// fallbackFor returns the provider to switch to after a permanent fault
// on primary, or "" when none serves the tier.
func (r *Router) fallbackFor(primary, tier string) (string, string) {
	if fb := r.routing.FallbackProvider; fb != "" && fb != primary {
		if model, ok := r.modelFor(fb, tier); ok {
			return fb, model
		}
	}
	for _, name := range r.order {
		if name == primary {
			continue
		}
		if model, ok := r.modelFor(name, tier); ok {
			return name, model
		}
	}
	return "", ""
}

func (r *Router) modelFor(provider, tier string) (string, bool) {
	pc, ok := r.providers[provider]
	if !ok {
		return "", false
	}
	model, ok := pc.Models[tier]
	return model, ok && model != ""
}

// invokeWithFallback runs the retry loop on the primary provider and,
// on a permanent fault, switches once to the fallback at the same tier.
func (r *Router) invokeWithFallback(ctx context.Context, spec TaskSpec, tier, provider, model string, maxTokens int) (*genai.Completion, string, string, error) {
	completion, err := r.invokeWithRetry(ctx, spec, provider, model, maxTokens)
	if err == nil {
		return completion, provider, model, nil
	}

	fbProvider, fbModel := r.fallbackFor(provider, tier)
	if fbProvider == "" {
		return nil, "", "", fmt.Errorf("%w: primary %s failed, no fallback serves tier %s: %w",
			ErrProviderUnavailable, provider, tier, err)
	}

	r.logger.Warn(ctx, "switching to fallback provider",
		zap.String("task", spec.TaskID),
		zap.String("primary", provider),
		zap.String("fallback", fbProvider),
		zap.Error(err),
	)

	completion, fbErr := r.invokeWithRetry(ctx, spec, fbProvider, fbModel, maxTokens)
	if fbErr != nil {
		return nil, "", "", fmt.Errorf("%w: primary %s: %w; fallback %s: %w",
			ErrProviderUnavailable, provider, err, fbProvider, fbErr)
	}
	return completion, fbProvider, fbModel, nil
}

// invokeWithRetry calls the client up to MaxAttempts times with
// exponential backoff on transient errors. Permanent faults return
// immediately so the caller can switch providers.
func (r *Router) invokeWithRetry(ctx context.Context, spec TaskSpec, provider, model string, maxTokens int) (*genai.Completion, error) {
	messages := []genai.Message{}
	if spec.System != "" {
		messages = append(messages, genai.Message{Role: genai.RoleSystem, Content: spec.System})
	}
	messages = append(messages, genai.Message{Role: genai.RoleUser, Content: spec.Prompt})

	req := genai.Request{
		Provider:    provider,
		Model:       model,
		Messages:    messages,
		Temperature: spec.Temperature,
		MaxTokens:   maxTokens,
	}

	backoff := r.routing.InitialBackoff.Duration()
	var lastErr error

	for attempt := 0; attempt < r.routing.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if max := r.routing.MaxBackoff.Duration(); backoff > max {
				backoff = max
			}
		}

		if limiter := r.limiters[provider]; limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		completion, err := r.client.Complete(ctx, req)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		if !genai.IsTransient(err) {
			return nil, err
		}
		r.logger.Debug(ctx, "transient provider fault, retrying",
			zap.String("provider", provider),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

// cost prices a call at the given tier.
func (r *Router) cost(tier string, inputTokens, outputTokens int) float64 {
	tc := r.routing.Tiers[tier]
	return float64(inputTokens)/1000*tc.InputPer1K + float64(outputTokens)/1000*tc.OutputPer1K
}

func tierIndex(tier string) int {
	for i, t := range tierChain {
		if t == tier {
			return i
		}
	}
	return -1
}
