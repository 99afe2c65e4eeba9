// Package provider gives every catalog model one call interface, live or demo,
// with a bounded fixed-delay retry.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/recd/internal/catalog"
	"github.com/fyrsmithlabs/recd/internal/config"
)

var (
	// ErrEmptyCompletion is returned when a provider answers without text.
	ErrEmptyCompletion = errors.New("provider returned an empty completion")
)

// Client performs one live completion against a vendor.
type Client interface {
	Generate(ctx context.Context, spec catalog.ModelSpec, prompt string) (string, error)
}

// Endpoint is the credential and optional base URL for one vendor.
type Endpoint struct {
	APIKey  config.Secret
	BaseURL string
}

// Config controls adapter behavior.
type Config struct {
	Endpoints         map[catalog.Provider]Endpoint
	MaxTokens         int
	MaxAttempts       int
	RetryDelay        time.Duration
	DemoDelayMin      time.Duration
	DemoDelayMax      time.Duration
	HTTPTimeout       time.Duration
	RequestsPerMinute int
}

// ConfigFrom maps the service configuration onto adapter settings.
func ConfigFrom(cfg *config.Config) Config {
	p := cfg.Providers
	return Config{
		Endpoints: map[catalog.Provider]Endpoint{
			catalog.OpenAI:    {APIKey: p.OpenAI.APIKey, BaseURL: p.OpenAI.BaseURL},
			catalog.Anthropic: {APIKey: p.Anthropic.APIKey, BaseURL: p.Anthropic.BaseURL},
			catalog.Google:    {APIKey: p.Google.APIKey, BaseURL: p.Google.BaseURL},
		},
		MaxTokens:         p.MaxTokens,
		MaxAttempts:       cfg.Batch.MaxAttempts,
		RetryDelay:        cfg.Batch.RetryDelay.Duration(),
		DemoDelayMin:      cfg.Batch.DemoDelayMin.Duration(),
		DemoDelayMax:      cfg.Batch.DemoDelayMax.Duration(),
		HTTPTimeout:       p.HTTPTimeout.Duration(),
		RequestsPerMinute: p.RequestsPerMinute,
	}
}

// Credentials reports which vendors have a configured key.
func (c Config) Credentials() catalog.Credentials {
	creds := catalog.Credentials{}
	for _, p := range catalog.Providers {
		creds[p] = c.Endpoints[p].APIKey.IsSet()
	}
	return creds
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithSleep replaces the wait used for retry and demo delays.
func WithSleep(fn SleepFunc) Option {
	return func(a *Adapter) { a.sleep = fn }
}

// WithRand sets the source used for demo delays. The adapter serializes
// access to it.
func WithRand(r *rand.Rand) Option {
	return func(a *Adapter) { a.rand = r }
}

// WithClient overrides the live client for one vendor. The vendor is
// treated as credentialed.
func WithClient(p catalog.Provider, c Client) Option {
	return func(a *Adapter) { a.clients[p] = c }
}

// WithHTTPClient sets the transport used by the built-in clients.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Adapter) { a.httpClient = hc }
}

// Adapter resolves a model key and dispatches the prompt to a live client,
// or produces tagged demo output when the vendor has no credential.
type Adapter struct {
	cfg        Config
	catalog    *catalog.Catalog
	clients    map[catalog.Provider]Client
	limiters   map[catalog.Provider]*rate.Limiter
	httpClient *http.Client
	logger     *zap.Logger
	sleep      SleepFunc
	metrics    *Metrics

	randMu sync.Mutex
	rand   *rand.Rand
}

// New builds an adapter. Vendors with a credential get a live client.
func New(cfg Config, cat *catalog.Catalog, opts ...Option) (*Adapter, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.DemoDelayMax < cfg.DemoDelayMin {
		return nil, fmt.Errorf("demo delay max %s is below min %s", cfg.DemoDelayMax, cfg.DemoDelayMin)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}

	a := &Adapter{
		cfg:      cfg,
		catalog:  cat,
		clients:  map[catalog.Provider]Client{},
		limiters: map[catalog.Provider]*rate.Limiter{},
		logger:   zap.NewNop(),
		sleep:    sleepContext,
		rand:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	a.metrics = NewMetrics(a.logger)

	for p, ok := range cfg.Credentials() {
		if _, injected := a.clients[p]; injected || !ok {
			continue
		}
		a.clients[p] = newLangChainClient(p, cfg.Endpoints[p], cfg.MaxTokens, a.httpClient)
	}

	if cfg.RequestsPerMinute > 0 {
		for _, p := range catalog.Providers {
			a.limiters[p] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
		}
	}

	return a, nil
}

// Mode reports whether calls for p go live or to demo output.
func (a *Adapter) Mode(p catalog.Provider) catalog.Mode {
	if _, ok := a.clients[p]; ok {
		return catalog.ModeLive
	}
	return catalog.ModeDemo
}

// Credentials reports vendor availability as seen by this adapter.
func (a *Adapter) Credentials() catalog.Credentials {
	creds := catalog.Credentials{}
	for _, p := range catalog.Providers {
		creds[p] = a.Mode(p) == catalog.ModeLive
	}
	return creds
}

// Catalog returns the model registry the adapter resolves against.
func (a *Adapter) Catalog() *catalog.Catalog {
	return a.catalog
}

// Complete resolves modelKey and returns the completion text for prompt.
//
// Each failed attempt waits RetryDelay before the next one, up to MaxAttempts
// in total. After the last attempt the last error is returned.
func (a *Adapter) Complete(ctx context.Context, modelKey, prompt string) (string, error) {
	spec, err := a.catalog.Lookup(modelKey)
	if err != nil {
		return "", err
	}

	mode := a.Mode(spec.Provider)
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		a.metrics.RecordAttempt(ctx, spec.Provider, mode)

		text, err := a.attempt(ctx, spec, mode, prompt)
		if err == nil {
			a.metrics.RecordCall(ctx, spec.Provider, mode, "success", time.Since(start))
			return text, nil
		}
		lastErr = err

		a.logger.Warn("provider attempt failed",
			zap.String("model", spec.Key),
			zap.String("provider", string(spec.Provider)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", a.cfg.MaxAttempts),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			break
		}
		if attempt < a.cfg.MaxAttempts {
			if err := a.sleep(ctx, a.cfg.RetryDelay); err != nil {
				break
			}
		}
	}

	a.metrics.RecordCall(ctx, spec.Provider, mode, "error", time.Since(start))
	return "", fmt.Errorf("%s failed after %d attempt(s): %w", spec.Key, a.cfg.MaxAttempts, lastErr)
}

func (a *Adapter) attempt(ctx context.Context, spec catalog.ModelSpec, mode catalog.Mode, prompt string) (string, error) {
	if mode == catalog.ModeDemo {
		if err := a.sleep(ctx, a.demoDelay()); err != nil {
			return "", err
		}
		return demoText(spec, prompt), nil
	}

	if lim := a.limiters[spec.Provider]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	text, err := a.clients[spec.Provider].Generate(ctx, spec, prompt)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// demoDelay is uniform in [DemoDelayMin, DemoDelayMax].
func (a *Adapter) demoDelay() time.Duration {
	span := a.cfg.DemoDelayMax - a.cfg.DemoDelayMin
	if span <= 0 {
		return a.cfg.DemoDelayMin
	}
	a.randMu.Lock()
	n := a.rand.Int64N(int64(span) + 1)
	a.randMu.Unlock()
	return a.cfg.DemoDelayMin + time.Duration(n)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
