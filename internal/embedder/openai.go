package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/starford/zettelink/internal/apperr"
)

// openAIProvider talks to any OpenAI-compatible /embeddings endpoint.
type openAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func newOpenAI(cfg Config, client *http.Client) (Provider, error) {
	key, err := apiKey(cfg, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	clientCfg := openai.DefaultConfig(key)
	if cfg.URL != "" {
		clientCfg.BaseURL = cfg.URL
	}
	clientCfg.HTTPClient = client

	return &openAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  openai.EmbeddingModel(cfg.Model),
	}, nil
}

// Embed implements Provider via POST /embeddings with bearer auth.
func (o *openAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          o.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, parseAPIError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, emptyVector(OpenAI)
	}
	return resp.Data[0].Embedding, nil
}

// parseAPIError flattens go-openai error types into a provider error.
func parseAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: HTTP %d: %s", apperr.ErrProvider, apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: HTTP %d: %s", apperr.ErrProvider, reqErr.HTTPStatusCode, string(reqErr.Body))
	}

	return fmt.Errorf("%w: %v", apperr.ErrProvider, redact(err))
}
