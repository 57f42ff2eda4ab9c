package client

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"orchestra/internal/destination"
	"orchestra/internal/message"
)

func TestFetchStatusAddsToken(t *testing.T) {
	requireLocalListener(t)
	var gotAuth, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			t.Fatalf("expected /api/status, got %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"isRunning":true,"port":7777,"connectionCount":2,"version":{"name":"orchestra","version":"dev"}}`)
	}))
	t.Cleanup(server.Close)

	status, err := FetchStatus(server.Client(), server.URL+"/", "token")
	if err != nil {
		t.Fatalf("fetch status: %v", err)
	}
	if gotAuth != "Bearer token" {
		t.Fatalf("expected auth header, got %q", gotAuth)
	}
	if !strings.HasPrefix(gotAgent, "orchestra/") {
		t.Fatalf("expected orchestra user agent, got %q", gotAgent)
	}
	if !status.IsRunning || status.Port != 7777 || status.ConnectionCount != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestFetchStatusHTTPError(t *testing.T) {
	requireLocalListener(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"unauthorized","code":"unauthorized"}`)
	}))
	t.Cleanup(server.Close)

	_, err := FetchStatus(server.Client(), server.URL, "")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusUnauthorized || httpErr.Message != "unauthorized" {
		t.Fatalf("unexpected error %+v", httpErr)
	}
}

func TestPostMessageSendsEnvelope(t *testing.T) {
	requireLocalListener(t)
	var received message.Envelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/messages" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		envelope, err := message.Decode(body)
		if err != nil {
			t.Fatalf("decode body: %v", err)
		}
		received = envelope
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"id":"`+envelope.ID+`","delivered":1,"sequence":4}`)
	}))
	t.Cleanup(server.Close)

	envelope, err := message.CreateMessage(destination.Conductor, "agent-1", message.TypeTaskCancel, map[string]any{"task": "t1"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result, err := PostMessage(server.Client(), server.URL, "", envelope)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if received.ID != envelope.ID || result.ID != envelope.ID || result.Sequence != 4 {
		t.Fatalf("unexpected result %+v (received %+v)", result, received)
	}
}

func TestRequestsRequireBaseURL(t *testing.T) {
	if _, err := FetchStatus(nil, "  ", ""); err == nil {
		t.Fatalf("expected error for missing base URL")
	}
}

func TestSocketURL(t *testing.T) {
	cases := []struct {
		base     string
		identity string
		want     string
	}{
		{base: "http://localhost:7777", want: "ws://localhost:7777/ws"},
		{base: "https://bus.example/", identity: "agent-2", want: "wss://bus.example/ws?clientId=agent-2"},
		{base: "ws://localhost:7777/ws", identity: "conductor", want: "ws://localhost:7777/ws?clientId=conductor"},
	}
	for _, tc := range cases {
		got, err := socketURL(tc.base, tc.identity)
		if err != nil {
			t.Fatalf("socketURL(%q): %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("socketURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
	if _, err := socketURL("ftp://host", ""); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}

func TestCorrelates(t *testing.T) {
	sent := message.Envelope{ID: "msg-1", CorrelationID: "corr-1"}
	cases := []struct {
		name     string
		envelope message.Envelope
		want     bool
	}{
		{name: "reply by id", envelope: message.Envelope{ID: "msg-2", CorrelationID: "msg-1"}, want: true},
		{name: "reply by correlation", envelope: message.Envelope{ID: "msg-3", CorrelationID: "corr-1"}, want: true},
		{name: "echo", envelope: message.Envelope{ID: "msg-1", CorrelationID: "corr-1"}, want: false},
		{name: "unrelated", envelope: message.Envelope{ID: "msg-4", CorrelationID: "other"}, want: false},
		{name: "uncorrelated", envelope: message.Envelope{ID: "msg-5"}, want: false},
	}
	for _, tc := range cases {
		if got := correlates(tc.envelope, sent); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func requireLocalListener(t *testing.T) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("local listener unavailable for httptest")
	}
	_ = listener.Close()
}
