package embed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaEmbedder generates embeddings via a local Ollama server.
type OllamaEmbedder struct {
	endpoint string       // e.g., "http://localhost:11434"
	model    string       // e.g., "nomic-embed-text"
	client   *http.Client // HTTP client for embed requests
}

type ollamaTagsResponse struct {
	Models []ollamaModel `json:"models"`
}

type ollamaModel struct {
	Name string `json:"name"`
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaPullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// ollamaPullStatus is one line of the streamed /api/pull response.
type ollamaPullStatus struct {
	Status    string `json:"status"`
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
	Error     string `json:"error"`
}

// NewOllamaEmbedder creates a new OllamaEmbedder with the given endpoint and model.
func NewOllamaEmbedder(endpoint, model string) *OllamaEmbedder {
	return &OllamaEmbedder{
		endpoint: endpoint,
		model:    model,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Model returns the configured model name.
func (e *OllamaEmbedder) Model() string { return e.model }

// Available returns true if the Ollama server is up and the model is installed.
// Uses a 3-second timeout for the check.
func (e *OllamaEmbedder) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ok, err := e.hasModel(ctx)
	return err == nil && ok
}

// hasModel asks /api/tags whether the model is installed. The error is
// non-nil only when the server itself could not be queried.
func (e *OllamaEmbedder) hasModel(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/api/tags", nil)
	if err != nil {
		return false, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("embed: ollama tags returned status %d", resp.StatusCode)
	}

	var tagsResp ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tagsResp); err != nil {
		return false, fmt.Errorf("embed: failed to parse tags: %w", err)
	}

	// "mxbai-embed-large" matches "mxbai-embed-large:latest"
	for _, m := range tagsResp.Models {
		if m.Name == e.model || m.Name == e.model+":latest" {
			return true, nil
		}
	}
	return false, nil
}

// Prepare makes sure the model is installed, pulling it when missing.
// progress (optional) receives byte counts while the model downloads;
// downloading is called once before the first byte arrives.
func (e *OllamaEmbedder) Prepare(ctx context.Context, downloading func(), progress func(completed, total int64)) error {
	ok, err := e.hasModel(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ok {
		return nil
	}
	if downloading != nil {
		downloading()
	}
	return e.pull(ctx, progress)
}

// pull streams /api/pull until the server reports success.
// The pull has no client timeout; ctx bounds it.
func (e *OllamaEmbedder) pull(ctx context.Context, progress func(completed, total int64)) error {
	body, err := json.Marshal(ollamaPullRequest{Model: e.model, Stream: true})
	if err != nil {
		return fmt.Errorf("embed: failed to marshal pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("embed: failed to create pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Transport: e.client.Transport}).Do(req)
	if err != nil {
		return fmt.Errorf("embed: pull failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("embed: ollama pull returned status %d: %s", resp.StatusCode, string(msg))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var st ollamaPullStatus
		if err := json.Unmarshal(scanner.Bytes(), &st); err != nil {
			continue
		}
		if st.Error != "" {
			return fmt.Errorf("embed: ollama pull: %s", st.Error)
		}
		if progress != nil && st.Total > 0 {
			progress(st.Completed, st.Total)
		}
		if st.Status == "success" {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("embed: reading pull stream: %w", err)
	}
	return fmt.Errorf("embed: ollama pull ended without success")
}

// Embed generates a vector embedding for the given text using Ollama.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	jsonBody, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embed: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embed", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("embed: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embed: request cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embed: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var embedResp ollamaEmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("embed: failed to parse response: %w", err)
	}

	if len(embedResp.Embeddings) == 0 || len(embedResp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed: no embeddings returned")
	}

	return embedResp.Embeddings[0], nil
}
