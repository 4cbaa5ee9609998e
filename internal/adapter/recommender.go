package adapter

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"audio-analyser/internal/config"
	"audio-analyser/internal/models"
)

const opRecommend = "recommend"

// summaryPrompt instructs the model to write an executive summary of a transcript.
const summaryPrompt = `Summarize key insights from the provided transcript in a concise executive
summary (10-15% of original length), suitable for senior banking and finance leaders. The
summary should be neutral, objective and fact-based.

- Briefly mention the source and objectives of the discussion.
- Organize the summary with the section headings 'Key Findings', 'Trends' and
'Strategic Recommendations'.
- Use 3-5 bullet points for the most crucial, actionable findings.
- Highlight important trends in 1-2 brief summary sentences.
- Provide forward-looking strategic recommendations focused on improving customer
satisfaction.
- Separate each main insight, finding or recommendation with line breaks.`

// Recommender generates executive summaries through an OpenAI-compatible chat API.
type Recommender struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	User        string        `json:"user,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewRecommender builds the chat completion client.
func NewRecommender(cfg config.Config) *Recommender {
	return &Recommender{
		httpClient: &http.Client{Timeout: cfg.CallTimeout},
		baseURL:    strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		apiKey:     cfg.OpenAIKey,
		model:      cfg.OpenAIModel,
	}
}

func (r *Recommender) Name() string { return opRecommend }

// Call summarizes one transcript.
func (r *Recommender) Call(ctx context.Context, in models.InputFile) (models.Record, error) {
	if err := requireKey(opRecommend, r.apiKey); err != nil {
		return nil, err
	}
	text, err := readText(opRecommend, in)
	if err != nil {
		return nil, err
	}

	conversationID := uuid.New().String()
	log.Printf("recommend %s conversation=%s", in.Name, conversationID)

	req := chatCompletionRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0.8,
		MaxTokens:   1024,
		User:        conversationID,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.apiKey)

	var resp chatCompletionResponse
	if err := postJSON(ctx, r.httpClient, opRecommend, r.baseURL+"/chat/completions", req, header, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, newError(RemoteService, opRecommend, "no choices in response")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, newError(RemoteService, opRecommend, fmt.Sprintf("empty completion (finish_reason=%s)", resp.Choices[0].FinishReason))
	}

	model := resp.Model
	if model == "" {
		model = r.model
	}
	return models.Recommendation{
		Content:        content,
		Model:          model,
		ConversationID: conversationID,
	}, nil
}
