package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"

	"audio-analyser/internal/config"
	"audio-analyser/internal/models"
)

const (
	opTranscribe         = "transcribe"
	transcribeAPIVersion = "2024-11-15"
)

// Transcriber calls the Azure Speech fast transcription endpoint, which accepts whole
// recordings and returns every recognized phrase.
type Transcriber struct {
	httpClient *http.Client
	endpoint   string
	key        string
	language   string
}

type transcribeDefinition struct {
	Locales []string `json:"locales"`
}

type transcribeResponse struct {
	DurationMS      int64 `json:"durationMilliseconds"`
	CombinedPhrases []struct {
		Text string `json:"text"`
	} `json:"combinedPhrases"`
	Phrases []struct {
		OffsetMS   int64   `json:"offsetMilliseconds"`
		DurationMS int64   `json:"durationMilliseconds"`
		Text       string  `json:"text"`
		Locale     string  `json:"locale"`
		Confidence float64 `json:"confidence"`
	} `json:"phrases"`
}

// NewTranscriber builds the speech client. SPEECH_ENDPOINT overrides the regional host.
func NewTranscriber(cfg config.Config) *Transcriber {
	endpoint := cfg.SpeechEndpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.api.cognitive.microsoft.com", cfg.SpeechRegion)
	}
	return &Transcriber{
		httpClient: &http.Client{Timeout: cfg.CallTimeout},
		endpoint:   strings.TrimRight(endpoint, "/"),
		key:        cfg.SpeechKey,
		language:   cfg.SpeechLanguage,
	}
}

func (t *Transcriber) Name() string { return opTranscribe }

// Call uploads one audio file and returns its transcript, one phrase per line.
func (t *Transcriber) Call(ctx context.Context, in models.InputFile) (models.Record, error) {
	if err := requireKey(opTranscribe, t.key); err != nil {
		return nil, err
	}
	audio, err := os.ReadFile(in.Path)
	if err != nil {
		return nil, &Error{Kind: UnsupportedInput, Op: opTranscribe, Message: "read " + in.Name, Err: err}
	}
	if len(audio) == 0 {
		return nil, newError(UnsupportedInput, opTranscribe, in.Name+" is empty")
	}

	body, contentType, err := t.form(in.Name, audio)
	if err != nil {
		return nil, &Error{Kind: UnsupportedInput, Op: opTranscribe, Message: "build form", Err: err}
	}

	q := url.Values{}
	q.Set("api-version", transcribeAPIVersion)
	target := t.endpoint + "/speechtotext/transcriptions:transcribe?" + q.Encode()

	header := http.Header{}
	header.Set("Ocp-Apim-Subscription-Key", t.key)
	header.Set("Content-Type", contentType)
	header.Set("Accept", "application/json")

	var resp transcribeResponse
	if err := post(ctx, t.httpClient, opTranscribe, target, body, header, &resp); err != nil {
		return nil, err
	}
	return t.transcript(in.Name, resp)
}

func (t *Transcriber) form(name string, audio []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("audio", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}

	def, err := json.Marshal(transcribeDefinition{Locales: []string{t.language}})
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("definition", string(def)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (t *Transcriber) transcript(name string, resp transcribeResponse) (models.Transcript, error) {
	tr := models.Transcript{Language: t.language, DurationMS: resp.DurationMS}

	lines := make([]string, 0, len(resp.Phrases))
	var confidence float64
	for _, p := range resp.Phrases {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		lines = append(lines, text)
		confidence += p.Confidence
		tr.Segments = append(tr.Segments, models.Segment{
			Text:       text,
			OffsetMS:   p.OffsetMS,
			DurationMS: p.DurationMS,
			Confidence: p.Confidence,
		})
	}
	if len(tr.Segments) > 0 {
		tr.OffsetMS = tr.Segments[0].OffsetMS
		tr.Confidence = confidence / float64(len(tr.Segments))
		if resp.Phrases[0].Locale != "" {
			tr.Language = resp.Phrases[0].Locale
		}
	} else {
		for _, c := range resp.CombinedPhrases {
			if text := strings.TrimSpace(c.Text); text != "" {
				lines = append(lines, text)
			}
		}
	}

	if len(lines) == 0 {
		return models.Transcript{}, newError(UnsupportedInput, opTranscribe, "no speech recognized in "+name)
	}
	tr.Content = strings.Join(lines, "\n")
	return tr, nil
}
