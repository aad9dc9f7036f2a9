package embed

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/abelbrown/linkstreak/internal/logging"
)

// QueryEmbedder is implemented by backends that embed search phrases
// differently from documents.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Preparer is implemented by backends that must install a model before use.
// downloading is called once if a download starts; progress reports bytes.
type Preparer interface {
	Prepare(ctx context.Context, downloading func(), progress func(completed, total int64)) error
}

// Provider normalizes text and embeds it, warming the backend on first use.
type Provider struct {
	emb    Embedder
	status *StatusTracker
	warm   singleflight.Group
}

// NewProvider wraps emb.
func NewProvider(emb Embedder) *Provider {
	return &Provider{emb: emb, status: NewStatusTracker()}
}

// Status returns the tracker driven by Warm.
func (p *Provider) Status() *StatusTracker { return p.status }

// Warm makes the backend ready. Concurrent callers share one initialisation.
// A failed provider is reset and retried on the next call.
func (p *Provider) Warm(ctx context.Context) error {
	if p.status.Current().State == StateReady {
		return nil
	}

	_, err, _ := p.warm.Do("warm", func() (interface{}, error) {
		switch p.status.Current().State {
		case StateReady:
			return nil, nil
		case StateFailed:
			p.status.Reset()
		}
		return nil, p.initialise(ctx)
	})
	return err
}

func (p *Provider) initialise(ctx context.Context) error {
	if prep, ok := p.emb.(Preparer); ok {
		downloading := func() {
			_ = p.status.set(Status{State: StateDownloading})
		}
		progress := func(completed, total int64) {
			pct := float64(completed) / float64(total) * 100
			_ = p.status.set(Status{State: StateDownloading, Progress: pct})
		}
		if err := prep.Prepare(ctx, downloading, progress); err != nil {
			_ = p.status.set(Status{State: StateFailed, Err: err.Error()})
			logging.Error("Embedding model init failed", "error", err)
			return fmt.Errorf("embed: warm: %w", err)
		}
	} else if !p.emb.Available() {
		_ = p.status.set(Status{State: StateFailed, Err: "backend not available"})
		return ErrUnavailable
	}

	_ = p.status.set(Status{State: StateReady, Progress: 100})
	logging.Info("Embedding model ready")
	return nil
}

// EmbedText embeds a search phrase. Text that normalizes to nothing yields
// (nil, nil).
func (p *Provider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	clean := Normalize(text)
	if clean == "" {
		return nil, nil
	}
	if err := p.Warm(ctx); err != nil {
		return nil, err
	}
	if q, ok := p.emb.(QueryEmbedder); ok {
		return q.EmbedQuery(ctx, clean)
	}
	return p.emb.Embed(ctx, clean)
}

// EmbedRecord embeds a page's title and description in record form.
// A page with neither yields (nil, nil).
func (p *Provider) EmbedRecord(ctx context.Context, title, description string) ([]float32, error) {
	if Normalize(title) == "" && Normalize(description) == "" {
		return nil, nil
	}
	if err := p.Warm(ctx); err != nil {
		return nil, err
	}
	return p.emb.Embed(ctx, Normalize(RecordText(title, description)))
}
