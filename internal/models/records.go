package models

import (
	"fmt"
	"strings"
	"time"
)

// Record is the normalized payload produced by a remote capability.
type Record interface {
	// Text renders the payload as plain text for file artifacts.
	Text() string
}

// Transcript is the result of a speech-to-text call.
type Transcript struct {
	Content    string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Language   string    `json:"language"`
	OffsetMS   int64     `json:"offset_ms"`
	DurationMS int64     `json:"duration_ms"`
	Segments   []Segment `json:"segments,omitempty"`
}

// Segment is one recognized phrase of a transcript.
type Segment struct {
	Text       string  `json:"text"`
	OffsetMS   int64   `json:"offset_ms"`
	DurationMS int64   `json:"duration_ms"`
	Confidence float64 `json:"confidence"`
}

func (t Transcript) Text() string {
	return strings.TrimSpace(t.Content) + "\n"
}

// SentimentScores holds per-label confidences.
type SentimentScores struct {
	Positive float64 `json:"positive"`
	Neutral  float64 `json:"neutral"`
	Negative float64 `json:"negative"`
}

// Entity is a recognized named or PII entity.
type Entity struct {
	Text        string  `json:"text"`
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// DetectedLanguage is the primary language of a document.
type DetectedLanguage struct {
	Name       string  `json:"name"`
	ISO6391    string  `json:"iso6391_name"`
	Confidence float64 `json:"confidence"`
}

// Analysis aggregates the text analytics results for one transcript.
type Analysis struct {
	Source      string           `json:"source"`
	Sentiment   string           `json:"sentiment"`
	Scores      SentimentScores  `json:"confidence_scores"`
	Entities    []Entity         `json:"entities"`
	KeyPhrases  []string         `json:"key_phrases"`
	Language    DetectedLanguage `json:"language"`
	PII         []Entity         `json:"pii"`
	Documents   int              `json:"documents"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Text renders the executive summary report.
func (a Analysis) Text() string {
	var b strings.Builder
	b.WriteString("Transcription analysis\n\n")
	fmt.Fprintf(&b, "File: %s\n", a.Source)
	fmt.Fprintf(&b, "Time: %s\n\n", a.GeneratedAt.Format("2006-01-02 15:04:05"))
	b.WriteString("Summary:\n")
	if a.Sentiment != "" {
		fmt.Fprintf(&b, "• Overall Sentiment: %s.\n", a.Sentiment)
		fmt.Fprintf(&b, "• Sentiment Scores - Positive: %.2f, Neutral: %.2f, Negative: %.2f\n",
			a.Scores.Positive, a.Scores.Neutral, a.Scores.Negative)
	}
	if names := entityTexts(a.Entities, 5); len(names) > 0 {
		fmt.Fprintf(&b, "• Key Entities Identified: %s.\n", strings.Join(names, ", "))
	}
	if len(a.KeyPhrases) > 0 {
		phrases := a.KeyPhrases
		if len(phrases) > 5 {
			phrases = phrases[:5]
		}
		fmt.Fprintf(&b, "• Notable Topics: %s.\n", strings.Join(phrases, ", "))
	}
	if a.Documents > 1 {
		fmt.Fprintf(&b, "• Analyzed in %d parts.\n", a.Documents)
	}
	if a.Language.Name != "" {
		fmt.Fprintf(&b, "• Detected Language: %s (%s).\n", a.Language.Name, a.Language.ISO6391)
	}
	if len(a.PII) > 0 {
		b.WriteString("• Personally identifiable information (PII): Yes.\n")
	} else {
		b.WriteString("• Personally identifiable information (PII): No.\n")
	}
	return b.String()
}

func entityTexts(entities []Entity, limit int) []string {
	out := make([]string, 0, limit)
	for _, e := range entities {
		if len(out) == limit {
			break
		}
		out = append(out, e.Text)
	}
	return out
}

// TranslatedText is the translation into one target language.
type TranslatedText struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// Translation holds every requested target language for one transcript.
type Translation struct {
	From         string           `json:"from"`
	Translations []TranslatedText `json:"translations"`
}

func (t Translation) Text() string {
	var b strings.Builder
	for i, tr := range t.Translations {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s]\n%s\n", tr.To, strings.TrimSpace(tr.Text))
	}
	return b.String()
}

// Recommendation is a generated executive summary.
type Recommendation struct {
	Content        string `json:"text"`
	Model          string `json:"model"`
	ConversationID string `json:"conversation_id"`
}

func (r Recommendation) Text() string {
	return strings.TrimSpace(r.Content) + "\n"
}
