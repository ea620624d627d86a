package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

// isoCodes maps stored language suffixes to the codes the service expects.
var isoCodes = map[catalog.Lang]string{
	catalog.LangKZ: "kk",
}

// ISOCode returns the ISO 639-1 code of lang.
func ISOCode(lang catalog.Lang) string {
	if code, ok := isoCodes[lang]; ok {
		return code
	}
	return string(lang)
}

// HTTPConfig configures an HTTPTranslator.
type HTTPConfig struct {
	URL    string
	APIKey string
}

// HTTPTranslator calls a LibreTranslate-compatible JSON API.
type HTTPTranslator struct {
	client   *source.HTTPClient
	endpoint string
	apiKey   string
}

// NewHTTPTranslator builds an HTTPTranslator posting to {URL}/translate.
func NewHTTPTranslator(client *source.HTTPClient, cfg HTTPConfig) (*HTTPTranslator, error) {
	if cfg.URL == "" {
		return nil, &catalog.ConfigurationError{Key: "translator.url", Msg: "required"}
	}
	return &HTTPTranslator{
		client:   client,
		endpoint: strings.TrimRight(cfg.URL, "/") + "/translate",
		apiKey:   cfg.APIKey,
	}, nil
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// Translate implements Translator.
func (t *HTTPTranslator) Translate(ctx context.Context, text string, from, to catalog.Lang) (string, error) {
	req := translateRequest{
		Q:      text,
		Source: ISOCode(from),
		Target: ISOCode(to),
		Format: "text",
		APIKey: t.apiKey,
	}
	var resp translateResponse
	if err := t.client.PostJSON(ctx, t.endpoint, req, &resp); err != nil {
		return "", fmt.Errorf("translate to %s: %w", to, err)
	}
	if resp.TranslatedText == "" {
		return "", &catalog.DataShapeError{Field: "translatedText"}
	}
	return resp.TranslatedText, nil
}
