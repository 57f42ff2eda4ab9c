// Package client talks to a running orchestra server, over the REST API or
// as a websocket participant on the bus.
package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orchestra/internal/jsoncodec"
	"orchestra/internal/message"
	"orchestra/internal/version"
)

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// Status mirrors the /api/status response.
type Status struct {
	IsRunning       bool                `json:"isRunning"`
	State           string              `json:"state"`
	Port            int                 `json:"port"`
	ConnectionCount int                 `json:"connectionCount"`
	PendingAcks     int                 `json:"pendingAcks"`
	Version         version.VersionInfo `json:"version"`
}

// SendResult mirrors the /api/messages response.
type SendResult struct {
	ID        string   `json:"id"`
	Delivered int      `json:"delivered"`
	Sequence  int64    `json:"sequence"`
	Warnings  []string `json:"warnings,omitempty"`
}

type HistoryEntry struct {
	Sequence int64            `json:"sequence"`
	StoredAt time.Time        `json:"storedAt"`
	Envelope message.Envelope `json:"envelope"`
}

func FetchStatus(client *http.Client, baseURL, token string) (Status, error) {
	var status Status
	err := doJSON(client, http.MethodGet, baseURL, "/api/status", token, nil, http.StatusOK, &status)
	return status, err
}

// PostMessage routes envelope through the server without holding a
// websocket.
func PostMessage(client *http.Client, baseURL, token string, envelope message.Envelope) (SendResult, error) {
	body, err := envelope.Encode()
	if err != nil {
		return SendResult{}, fmt.Errorf("encode envelope: %w", err)
	}
	var result SendResult
	err = doJSON(client, http.MethodPost, baseURL, "/api/messages", token, body, http.StatusAccepted, &result)
	return result, err
}

func FetchHistory(client *http.Client, baseURL, token string, limit int) ([]HistoryEntry, error) {
	path := "/api/history"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var entries []HistoryEntry
	err := doJSON(client, http.MethodGet, baseURL, path, token, nil, http.StatusOK, &entries)
	return entries, err
}

func doJSON(client *http.Client, method, baseURL, path, token string, body []byte, wantStatus int, out any) error {
	client = ensureClient(client)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return errors.New("base URL is required")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("User-Agent", version.UserAgent())
	addToken(request, token)

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != wantStatus {
		return &HTTPError{StatusCode: response.StatusCode, Message: readErrorMessage(response)}
	}
	if out == nil {
		return nil
	}
	if err := jsoncodec.Decode(response.Body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func ensureClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return http.DefaultClient
}

func addToken(request *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	request.Header.Set("Authorization", "Bearer "+token)
}

func readErrorMessage(response *http.Response) string {
	if response == nil || response.Body == nil {
		return "request failed"
	}
	body, _ := io.ReadAll(response.Body)
	text := strings.TrimSpace(string(body))
	if text == "" {
		return response.Status
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := jsoncodec.Unmarshal(body, &payload); err == nil {
		if strings.TrimSpace(payload.Error) != "" {
			return payload.Error
		}
	}
	return text
}
