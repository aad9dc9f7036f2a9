package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	jinaDefaultModel    = "jina-embeddings-v3"
	jinaDefaultEndpoint = "https://api.jina.ai/v1/embeddings"
	jinaDimensions      = 1024
	jinaChunkSize       = 25

	taskPassage = "retrieval.passage"
	taskQuery   = "retrieval.query"
)

// jinaBackoffs is the sleep before each retry. Its length is the retry count.
var jinaBackoffs = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// JinaEmbedder is the hosted fallback used when no local model is configured.
type JinaEmbedder struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

type jinaEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Task       string   `json:"task"`
	Dimensions int      `json:"dimensions"`
	Truncate   bool     `json:"truncate"`
}

type jinaEmbedResponse struct {
	Data []jinaEmbedding `json:"data"`
}

type jinaEmbedding struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// NewJinaEmbedder creates a JinaEmbedder. An empty model selects jina-embeddings-v3.
func NewJinaEmbedder(apiKey, model string) *JinaEmbedder {
	if model == "" {
		model = jinaDefaultModel
	}
	return &JinaEmbedder{
		apiKey:   apiKey,
		model:    model,
		endpoint: jinaDefaultEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(750*time.Millisecond), 1), // ~80 RPM
	}
}

// Model returns the configured model name.
func (e *JinaEmbedder) Model() string { return e.model }

// Available reports whether an API key is configured.
func (e *JinaEmbedder) Available() bool {
	return e.apiKey != ""
}

// Embed embeds a page record (title and description).
func (e *JinaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.one(ctx, text, taskPassage)
}

// EmbedQuery embeds a focus or ambient phrase with the query task type.
func (e *JinaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.one(ctx, text, taskQuery)
}

// EmbedBatch embeds page records in chunks of 25, preserving input order.
func (e *JinaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += jinaChunkSize {
		end := min(start+jinaChunkSize, len(texts))
		chunk := texts[start:end]

		resp, err := e.call(ctx, chunk, taskPassage)
		if err != nil {
			return nil, fmt.Errorf("embed: batch chunk at %d: %w", start, err)
		}
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(chunk) {
				return nil, fmt.Errorf("embed: jina returned index %d for chunk of %d", item.Index, len(chunk))
			}
			out[start+item.Index] = item.Embedding
		}
	}

	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("embed: missing embedding for index %d", i)
		}
	}
	return out, nil
}

func (e *JinaEmbedder) one(ctx context.Context, text, task string) ([]float32, error) {
	resp, err := e.call(ctx, []string{text}, task)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embed: jina returned no embeddings")
	}
	return resp.Data[0].Embedding, nil
}

// call posts one request, retrying 429, 5xx and unparseable bodies.
func (e *JinaEmbedder) call(ctx context.Context, input []string, task string) (*jinaEmbedResponse, error) {
	body, err := json.Marshal(jinaEmbedRequest{
		Model:      e.model,
		Input:      input,
		Task:       task,
		Dimensions: jinaDimensions,
		Truncate:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(jinaBackoffs); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("embed: request cancelled during retry: %w", ctx.Err())
			case <-time.After(e.retryDelay(attempt-1, lastErr)):
			}
		}

		resp, retry, err := e.post(ctx, body)
		if err == nil {
			return resp, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embed: all retries exhausted: %w", lastErr)
}

// retryAfterError carries a server-requested delay.
type retryAfterError struct {
	status int
	body   string
	after  time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("embed: jina returned status %d: %s", e.status, e.body)
}

func (e *JinaEmbedder) retryDelay(i int, lastErr error) time.Duration {
	if ra, ok := lastErr.(*retryAfterError); ok && ra.after > 0 {
		return ra.after
	}
	return jinaBackoffs[i]
}

// post performs a single attempt. retry reports whether the failure is transient.
func (e *JinaEmbedder) post(ctx context.Context, body []byte) (resp *jinaEmbedResponse, retry bool, err error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("embed: rate limiter wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("embed: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	httpResp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, fmt.Errorf("embed: request cancelled: %w", ctx.Err())
		}
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	httpResp.Body.Close()
	if err != nil {
		return nil, false, fmt.Errorf("embed: failed to read response: %w", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		var out jinaEmbedResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, true, fmt.Errorf("embed: failed to parse response: %w", err)
		}
		return &out, false, nil
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, true, &retryAfterError{
			status: httpResp.StatusCode,
			body:   string(data),
			after:  parseRetryAfter(httpResp.Header.Get("Retry-After")),
		}
	case httpResp.StatusCode >= 500:
		return nil, true, &retryAfterError{status: httpResp.StatusCode, body: string(data)}
	default:
		return nil, false, fmt.Errorf("embed: jina returned status %d: %s", httpResp.StatusCode, string(data))
	}
}

// parseRetryAfter reads a delay in seconds, capped at 30s. Zero means absent.
func parseRetryAfter(v string) time.Duration {
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return 0
	}
	return min(time.Duration(seconds)*time.Second, 30*time.Second)
}
