package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"

	"audio-analyser/internal/models"
)

// Adapter wraps one remote AI capability.
type Adapter interface {
	Name() string
	Call(ctx context.Context, in models.InputFile) (models.Record, error)
}

const maxErrorBody = 2048

// post sends body to url and decodes a 2xx JSON answer into out. Every failure is
// returned as *Error.
func post(ctx context.Context, client *http.Client, op, url string, body []byte, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: RemoteService, Op: op, Message: "build request", Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Error{Kind: Transient, Op: op, Message: "send request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{
			Kind:       KindForStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: RemoteService, Op: op, Message: "decode response", Err: err}
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, op, url string, payload any, header http.Header, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Kind: UnsupportedInput, Op: op, Message: "marshal request", Err: err}
	}
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")
	return post(ctx, client, op, url, body, header, out)
}

// readText loads a text input, rejecting files with nothing to process.
func readText(op string, in models.InputFile) (string, error) {
	data, err := os.ReadFile(in.Path)
	if err != nil {
		return "", &Error{Kind: UnsupportedInput, Op: op, Message: fmt.Sprintf("read %s", in.Name), Err: err}
	}
	if !utf8.Valid(data) {
		return "", newError(UnsupportedInput, op, fmt.Sprintf("%s is not valid UTF-8 text", in.Name))
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", newError(UnsupportedInput, op, fmt.Sprintf("%s is empty", in.Name))
	}
	return text, nil
}

func requireKey(op, key string) error {
	if strings.TrimSpace(key) == "" {
		return newError(Auth, op, "missing credential")
	}
	return nil
}
