package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// geminiProvider talks to the Google Generative Language API.
type geminiProvider struct {
	baseURL string
	model   string
	key     string
	client  *http.Client
}

func newGemini(cfg Config, client *http.Client) (Provider, error) {
	key, err := apiKey(cfg, "GEMINI_API_KEY")
	if err != nil {
		return nil, err
	}
	return &geminiProvider{baseURL: cfg.URL, model: cfg.Model, key: key, client: client}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	Content struct {
		Parts []geminiPart `json:"parts"`
	} `json:"content"`
}

// Embed implements Provider via POST /models/{model}:embedContent.
func (g *geminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var payload geminiRequest
	payload.Content.Parts = []geminiPart{{Text: text}}

	endpoint := fmt.Sprintf("%s/models/%s:embedContent?key=%s",
		g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.key))

	var resp struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := postJSON(ctx, g.client, endpoint, nil, payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, emptyVector(Gemini)
	}
	return resp.Embedding.Values, nil
}
