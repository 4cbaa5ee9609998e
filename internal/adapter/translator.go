package adapter

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"audio-analyser/internal/config"
	"audio-analyser/internal/models"
)

const (
	opTranslate          = "translate"
	maxTranslateRunes    = 50000
	translatorAPIVersion = "3.0"
)

// Translator calls the Azure Translator v3 API for every configured target language.
type Translator struct {
	httpClient *http.Client
	endpoint   string
	key        string
	region     string
	from       string
	to         []string
}

type translateResponse []struct {
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

// NewTranslator builds the translator client.
func NewTranslator(cfg config.Config) *Translator {
	return &Translator{
		httpClient: &http.Client{Timeout: cfg.CallTimeout},
		endpoint:   strings.TrimRight(cfg.TranslatorEndpoint, "/"),
		key:        cfg.TranslatorKey,
		region:     cfg.TranslatorRegion,
		from:       cfg.TranslationFrom,
		to:         cfg.TranslationLanguages,
	}
}

func (t *Translator) Name() string { return opTranslate }

// Call translates one transcript into all target languages in a single request.
func (t *Translator) Call(ctx context.Context, in models.InputFile) (models.Record, error) {
	if err := requireKey(opTranslate, t.key); err != nil {
		return nil, err
	}
	if len(t.to) == 0 {
		return nil, newError(UnsupportedInput, opTranslate, "no target languages configured")
	}
	text, err := readText(opTranslate, in)
	if err != nil {
		return nil, err
	}
	// The character limit covers every target language of a request.
	chunks := splitText(text, maxTranslateRunes/len(t.to))

	q := url.Values{}
	q.Set("api-version", translatorAPIVersion)
	if t.from != "" {
		q.Set("from", t.from)
	}
	for _, lang := range t.to {
		q.Add("to", lang)
	}
	target := t.endpoint + "/translate?" + q.Encode()

	parts := make(map[string][]string, len(t.to))
	var order []string
	for _, chunk := range chunks {
		traceID := uuid.New().String()
		header := http.Header{}
		header.Set("Ocp-Apim-Subscription-Key", t.key)
		if t.region != "" {
			header.Set("Ocp-Apim-Subscription-Region", t.region)
		}
		header.Set("X-ClientTraceId", traceID)

		var resp translateResponse
		body := []map[string]string{{"Text": chunk}}
		if err := postJSON(ctx, t.httpClient, opTranslate, target, body, header, &resp); err != nil {
			log.Printf("translate %s failed trace=%s: %v", in.Name, traceID, err)
			return nil, err
		}
		if len(resp) == 0 || len(resp[0].Translations) == 0 {
			return nil, newError(RemoteService, opTranslate, "empty translation response")
		}
		for _, tr := range resp[0].Translations {
			if _, ok := parts[tr.To]; !ok {
				order = append(order, tr.To)
			}
			parts[tr.To] = append(parts[tr.To], tr.Text)
		}
	}

	out := models.Translation{From: t.from}
	for _, lang := range order {
		out.Translations = append(out.Translations, models.TranslatedText{To: lang, Text: strings.Join(parts[lang], "\n")})
	}
	return out, nil
}
