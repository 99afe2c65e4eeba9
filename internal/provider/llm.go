package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/api/option"

	"github.com/fyrsmithlabs/recd/internal/catalog"
)

// langChainClient serves every vendor through langchaingo.
// One llms.Model is built per remote model and reused.
type langChainClient struct {
	provider   catalog.Provider
	endpoint   Endpoint
	maxTokens  int
	httpClient *http.Client

	mu     sync.Mutex
	models map[string]llms.Model
}

func newLangChainClient(p catalog.Provider, ep Endpoint, maxTokens int, hc *http.Client) *langChainClient {
	return &langChainClient{
		provider:   p,
		endpoint:   ep,
		maxTokens:  maxTokens,
		httpClient: hc,
		models:     map[string]llms.Model{},
	}
}

// Generate sends prompt as a single user message and returns the first choice.
func (c *langChainClient) Generate(ctx context.Context, spec catalog.ModelSpec, prompt string) (string, error) {
	model, err := c.model(ctx, spec.RemoteModel)
	if err != nil {
		return "", err
	}
	text, err := llms.GenerateFromSinglePrompt(ctx, model, prompt,
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", c.provider, err)
	}
	return text, nil
}

func (c *langChainClient) model(ctx context.Context, remote string) (llms.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.models[remote]; ok {
		return m, nil
	}

	var (
		m   llms.Model
		err error
	)
	switch c.provider {
	case catalog.OpenAI:
		opts := []openai.Option{
			openai.WithToken(c.endpoint.APIKey.Value()),
			openai.WithModel(remote),
			openai.WithHTTPClient(c.httpClient),
		}
		if c.endpoint.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(c.endpoint.BaseURL))
		}
		m, err = openai.New(opts...)
	case catalog.Anthropic:
		opts := []anthropic.Option{
			anthropic.WithToken(c.endpoint.APIKey.Value()),
			anthropic.WithModel(remote),
			anthropic.WithHTTPClient(c.httpClient),
		}
		if c.endpoint.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(c.endpoint.BaseURL))
		}
		m, err = anthropic.New(opts...)
	case catalog.Google:
		opts := []googleai.Option{
			googleai.WithAPIKey(c.endpoint.APIKey.Value()),
			googleai.WithDefaultModel(remote),
			googleai.WithDefaultMaxTokens(c.maxTokens),
			googleai.WithHTTPClient(withAPIKeyHeader(c.httpClient, c.endpoint.APIKey.Value())),
		}
		if c.endpoint.BaseURL != "" {
			opts = append(opts, googleEndpoint(c.endpoint.BaseURL))
		}
		// The client outlives this call; ctx only covers construction.
		m, err = googleai.New(context.WithoutCancel(ctx), opts...)
	default:
		return nil, fmt.Errorf("no langchain client for provider %q", c.provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", c.provider, err)
	}

	c.models[remote] = m
	return m, nil
}

func googleEndpoint(baseURL string) googleai.Option {
	return func(o *googleai.Options) {
		o.ClientOptions = append(o.ClientOptions, option.WithEndpoint(strings.TrimRight(baseURL, "/")))
	}
}

// withAPIKeyHeader returns a copy of hc that sends the Gemini key header. A
// caller-supplied HTTP client bypasses the key option in the Google transport.
func withAPIKeyHeader(hc *http.Client, key string) *http.Client {
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	out := *hc
	out.Transport = &apiKeyTransport{base: base, key: key}
	return &out
}

type apiKeyTransport struct {
	base http.RoundTripper
	key  string
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("x-goog-api-key", t.key)
	return t.base.RoundTrip(req)
}
