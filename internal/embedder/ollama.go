package embedder

import (
	"context"
	"net/http"
)

// ollamaProvider talks to a local Ollama server.
type ollamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func newOllama(cfg Config, client *http.Client) (Provider, error) {
	return &ollamaProvider{baseURL: cfg.URL, model: cfg.Model, client: client}, nil
}

// Embed implements Provider via POST /api/embeddings.
func (o *ollamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]string{
		"model":  o.model,
		"prompt": text,
	}

	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := postJSON(ctx, o.client, o.baseURL+"/api/embeddings", nil, payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, emptyVector(Ollama)
	}
	return resp.Embedding, nil
}
