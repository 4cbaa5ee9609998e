package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"audio-analyser/internal/config"
	"audio-analyser/internal/models"
)

const (
	opAnalyze          = "analyze"
	analyzeAPIVersion  = "2023-04-01"
	maxAnalyzeDocRunes = 5120
	maxAnalyzeDocs     = 5
)

// Analyzer runs the Azure Language text analytics tasks on a transcript.
type Analyzer struct {
	httpClient *http.Client
	endpoint   string
	key        string
	now        func() time.Time
}

type analyzeRequest struct {
	Kind          string         `json:"kind"`
	AnalysisInput analysisInput  `json:"analysisInput"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

type analysisInput struct {
	Documents []analysisDocument `json:"documents"`
}

type analysisDocument struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Language    string `json:"language,omitempty"`
	CountryHint string `json:"countryHint,omitempty"`
}

type analyzeResponse struct {
	Kind    string `json:"kind"`
	Results struct {
		Documents []json.RawMessage `json:"documents"`
		Errors    []struct {
			ID    string `json:"id"`
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"errors"`
	} `json:"results"`
}

type entityDoc struct {
	Entities []struct {
		Text            string  `json:"text"`
		Category        string  `json:"category"`
		Subcategory     string  `json:"subcategory"`
		ConfidenceScore float64 `json:"confidenceScore"`
	} `json:"entities"`
}

// NewAnalyzer builds the text analytics client.
func NewAnalyzer(cfg config.Config) *Analyzer {
	return &Analyzer{
		httpClient: &http.Client{Timeout: cfg.CallTimeout},
		endpoint:   strings.TrimRight(cfg.LanguageEndpoint, "/"),
		key:        cfg.LanguageKey,
		now:        time.Now,
	}
}

func (a *Analyzer) Name() string { return opAnalyze }

// Call reads one transcript and runs sentiment, entity, key phrase, language and PII tasks.
func (a *Analyzer) Call(ctx context.Context, in models.InputFile) (models.Record, error) {
	if err := requireKey(opAnalyze, a.key); err != nil {
		return nil, err
	}
	text, err := readText(opAnalyze, in)
	if err != nil {
		return nil, err
	}
	chunks := splitText(text, maxAnalyzeDocRunes)

	result := models.Analysis{
		Source:      in.Name,
		Documents:   len(chunks),
		GeneratedAt: a.now().UTC(),
	}

	docs, err := a.analyze(ctx, "SentimentAnalysis", chunks)
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(docs))
	for _, raw := range docs {
		var sentiment struct {
			Sentiment        string                 `json:"sentiment"`
			ConfidenceScores models.SentimentScores `json:"confidenceScores"`
		}
		if err := decodeDoc(raw, &sentiment); err != nil {
			return nil, err
		}
		labels = append(labels, sentiment.Sentiment)
		result.Scores.Positive += sentiment.ConfidenceScores.Positive / float64(len(docs))
		result.Scores.Neutral += sentiment.ConfidenceScores.Neutral / float64(len(docs))
		result.Scores.Negative += sentiment.ConfidenceScores.Negative / float64(len(docs))
	}
	result.Sentiment = overallSentiment(labels, result.Scores)

	if docs, err = a.analyze(ctx, "EntityRecognition", chunks); err != nil {
		return nil, err
	}
	if result.Entities, err = collectEntities(docs); err != nil {
		return nil, err
	}

	if docs, err = a.analyze(ctx, "KeyPhraseExtraction", chunks); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, raw := range docs {
		var phrases struct {
			KeyPhrases []string `json:"keyPhrases"`
		}
		if err := decodeDoc(raw, &phrases); err != nil {
			return nil, err
		}
		for _, p := range phrases.KeyPhrases {
			if key := strings.ToLower(p); !seen[key] {
				seen[key] = true
				result.KeyPhrases = append(result.KeyPhrases, p)
			}
		}
	}

	if docs, err = a.analyze(ctx, "LanguageDetection", chunks); err != nil {
		return nil, err
	}
	for _, raw := range docs {
		var language struct {
			DetectedLanguage struct {
				Name            string  `json:"name"`
				ISO6391Name     string  `json:"iso6391Name"`
				ConfidenceScore float64 `json:"confidenceScore"`
			} `json:"detectedLanguage"`
		}
		if err := decodeDoc(raw, &language); err != nil {
			return nil, err
		}
		if d := language.DetectedLanguage; d.ConfidenceScore > result.Language.Confidence || result.Language.Name == "" {
			result.Language = models.DetectedLanguage{Name: d.Name, ISO6391: d.ISO6391Name, Confidence: d.ConfidenceScore}
		}
	}

	if docs, err = a.analyze(ctx, "PiiEntityRecognition", chunks); err != nil {
		return nil, err
	}
	if result.PII, err = collectEntities(docs); err != nil {
		return nil, err
	}

	return result, nil
}

// analyze runs one task over every chunk, at most maxAnalyzeDocs documents per request,
// and returns the result documents in chunk order.
func (a *Analyzer) analyze(ctx context.Context, kind string, chunks []string) ([]json.RawMessage, error) {
	header := http.Header{}
	header.Set("Ocp-Apim-Subscription-Key", a.key)
	target := a.endpoint + "/language/:analyze-text?api-version=" + analyzeAPIVersion
	op := opAnalyze + " " + kind

	out := make([]json.RawMessage, len(chunks))
	for start := 0; start < len(chunks); start += maxAnalyzeDocs {
		end := min(start+maxAnalyzeDocs, len(chunks))
		docs := make([]analysisDocument, 0, end-start)
		for i := start; i < end; i++ {
			doc := analysisDocument{ID: strconv.Itoa(i + 1), Text: chunks[i]}
			if kind == "LanguageDetection" {
				doc.CountryHint = "us"
			} else {
				doc.Language = "en"
			}
			docs = append(docs, doc)
		}
		req := analyzeRequest{Kind: kind, AnalysisInput: analysisInput{Documents: docs}}

		var resp analyzeResponse
		if err := postJSON(ctx, a.httpClient, op, target, req, header, &resp); err != nil {
			return nil, err
		}
		if len(resp.Results.Errors) > 0 {
			e := resp.Results.Errors[0].Error
			return nil, newError(UnsupportedInput, op, fmt.Sprintf("%s: %s", e.Code, e.Message))
		}
		for _, raw := range resp.Results.Documents {
			var ref struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &ref); err != nil {
				return nil, &Error{Kind: RemoteService, Op: op, Message: "decode document", Err: err}
			}
			idx, err := strconv.Atoi(ref.ID)
			if err != nil || idx <= start || idx > end {
				return nil, newError(RemoteService, op, fmt.Sprintf("unexpected document id %q", ref.ID))
			}
			out[idx-1] = raw
		}
	}
	for i, raw := range out {
		if raw == nil {
			return nil, newError(RemoteService, op, fmt.Sprintf("no result for document %d", i+1))
		}
	}
	return out, nil
}

func decodeDoc(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: RemoteService, Op: opAnalyze, Message: "decode document", Err: err}
	}
	return nil
}

func collectEntities(docs []json.RawMessage) ([]models.Entity, error) {
	out := []models.Entity{}
	seen := make(map[string]bool)
	for _, raw := range docs {
		var doc entityDoc
		if err := decodeDoc(raw, &doc); err != nil {
			return nil, err
		}
		for _, e := range toEntities(doc) {
			key := e.Category + "\x00" + strings.ToLower(e.Text)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, e)
		}
	}
	return out, nil
}

// overallSentiment follows the service's document rule: positive and negative parts make
// the whole mixed.
func overallSentiment(labels []string, scores models.SentimentScores) string {
	has := make(map[string]bool)
	for _, l := range labels {
		has[l] = true
	}
	switch {
	case len(has) == 1:
		return labels[0]
	case has["mixed"] || (has["positive"] && has["negative"]):
		return "mixed"
	case scores.Positive >= scores.Neutral && scores.Positive >= scores.Negative:
		return "positive"
	case scores.Negative >= scores.Neutral:
		return "negative"
	default:
		return "neutral"
	}
}

// splitText cuts text into pieces of at most max runes, preferring whitespace boundaries.
func splitText(text string, max int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if piece := strings.TrimSpace(string(runes[:cut])); piece != "" {
			out = append(out, piece)
		}
		runes = runes[cut:]
	}
	if piece := strings.TrimSpace(string(runes)); piece != "" {
		out = append(out, piece)
	}
	return out
}

func toEntities(doc entityDoc) []models.Entity {
	out := make([]models.Entity, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		out = append(out, models.Entity{
			Text:        e.Text,
			Category:    e.Category,
			Subcategory: e.Subcategory,
			Confidence:  e.ConfidenceScore,
		})
	}
	return out
}
