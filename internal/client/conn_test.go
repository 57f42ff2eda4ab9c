package client

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"orchestra/internal/destination"
	"orchestra/internal/message"
	"orchestra/internal/persistence"
	"orchestra/internal/server"
)

func startServer(t *testing.T, token string) string {
	t.Helper()
	requireLocalListener(t)
	srv := server.New(server.Options{
		Host:      "127.0.0.1",
		AuthToken: token,
		Store:     persistence.NewMemoryStore(persistence.Config{}),
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Skipf("server unavailable: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return "http://127.0.0.1:" + strconv.Itoa(srv.Port())
}

func dial(t *testing.T, base, identity, token string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Dial(ctx, DialOptions{URL: base, Identity: identity, Token: token})
	if err != nil {
		t.Fatalf("dial %s: %v", identity, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConnRequestReply(t *testing.T) {
	base := startServer(t, "")
	conductor := dial(t, base, destination.Conductor, "")
	agent := dial(t, base, "agent-1", "")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// The server binds agent-1 before routing this, and replays it to the
	// conductor if the conductor binding lands second.
	if _, err := agent.SendMessage(destination.Conductor, message.TypeAgentReady, map[string]any{}, ""); err != nil {
		t.Fatalf("send ready: %v", err)
	}
	ready, err := conductor.Receive(ctx)
	if err != nil || ready.Type != message.TypeAgentReady {
		t.Fatalf("expected AGENT_READY, got %+v (%v)", ready, err)
	}

	query, err := conductor.SendMessage("agent-1", message.TypeConductorQuery, map[string]any{"q": "status"}, "")
	if err != nil {
		t.Fatalf("send query: %v", err)
	}
	received, err := agent.Receive(ctx)
	if err != nil || received.ID != query.ID {
		t.Fatalf("expected query at agent, got %+v (%v)", received, err)
	}

	if _, err := agent.SendMessage(destination.Conductor, message.TypeConductorResponse, map[string]any{"ok": true}, received.ID); err != nil {
		t.Fatalf("send response: %v", err)
	}
	reply, err := conductor.WaitForReply(ctx, query, nil)
	if err != nil {
		t.Fatalf("wait for reply: %v", err)
	}
	if reply.Type != message.TypeConductorResponse || reply.From != "agent-1" {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestConnInvalidFrameSurfacesRemoteError(t *testing.T) {
	base := startServer(t, "")
	conn := dial(t, base, "", "")

	bad := message.Envelope{
		ID:            "msg-bad",
		From:          "tool",
		To:            "nowhere",
		Type:          message.TypeTaskProgress,
		Payload:       []byte(`{}`),
		Timestamp:     message.FormatTimestamp(time.Now()),
		CorrelationID: "corr-bad",
	}
	if err := conn.Send(bad); err != nil {
		t.Fatalf("send: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	envelope, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if envelope.Type != message.TypeSystemError {
		t.Fatalf("expected SYSTEM_ERROR, got %s", envelope.Type)
	}
	var remote *RemoteError
	if !errors.As(remoteError(envelope), &remote) || remote.Reason == "" {
		t.Fatalf("expected remote error reason, got %+v", remote)
	}
}

func TestDialRejectedWithoutToken(t *testing.T) {
	base := startServer(t, "secret")

	_, err := Dial(context.Background(), DialOptions{URL: base})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 HTTPError, got %v", err)
	}

	conn := dial(t, base, "", "secret")
	if conn.Identity() != "" {
		t.Fatalf("expected anonymous identity")
	}
}

func TestReceiveHonorsContext(t *testing.T) {
	base := startServer(t, "")
	conn := dial(t, base, "agent-9", "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := conn.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
