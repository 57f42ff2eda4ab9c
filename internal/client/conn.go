package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"orchestra/internal/message"
	"orchestra/internal/version"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// RemoteError is a SYSTEM_ERROR the server sent back.
type RemoteError struct {
	Reason        string
	CorrelationID string
}

func (e *RemoteError) Error() string {
	return "server error: " + e.Reason
}

type DialOptions struct {
	// URL is the server base, http(s):// or ws(s)://. The /ws path is added
	// when missing.
	URL string
	// Identity is the logical id announced on connect (conductor, dashboard,
	// agent-<id>). Empty connects anonymously.
	Identity string
	Token    string
	Dialer   *websocket.Dialer
}

// Conn is one websocket participant. Send and Receive may be used from
// different goroutines; Receive itself is not safe for concurrent use.
type Conn struct {
	ws       *websocket.Conn
	identity string
	writeMu  sync.Mutex
	once     sync.Once
}

func Dial(ctx context.Context, opts DialOptions) (*Conn, error) {
	target, err := socketURL(opts.URL, opts.Identity)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	if token := strings.TrimSpace(opts.Token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, response, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if response != nil {
			defer response.Body.Close()
			return nil, &HTTPError{StatusCode: response.StatusCode, Message: readErrorMessage(response)}
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Conn{ws: ws, identity: opts.Identity}, nil
}

func socketURL(base, identity string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("server URL is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if !strings.HasSuffix(parsed.Path, "/ws") {
		parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws"
	}
	if identity = strings.TrimSpace(identity); identity != "" {
		query := parsed.Query()
		query.Set("clientId", identity)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func (c *Conn) Identity() string {
	return c.identity
}

func (c *Conn) Send(envelope message.Envelope) error {
	data, err := envelope.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// SendMessage builds an envelope from this connection's identity and sends
// it. The sent envelope is returned so callers can correlate replies.
func (c *Conn) SendMessage(to string, kind message.Type, payload any, correlationID string) (message.Envelope, error) {
	envelope, err := message.CreateMessage(c.identity, to, kind, payload, correlationID)
	if err != nil {
		return message.Envelope{}, err
	}
	return envelope, c.Send(envelope)
}

// Receive blocks for the next envelope or until ctx ends.
func (c *Conn) Receive(ctx context.Context) (message.Envelope, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return message.Envelope{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return message.Envelope{}, ctxErr
		}
		var netErr net.Error
		if ok && errors.As(err, &netErr) && netErr.Timeout() {
			return message.Envelope{}, context.DeadlineExceeded
		}
		return message.Envelope{}, err
	}
	return message.Decode(data)
}

// WaitForReply receives until an envelope correlated with sent arrives. A
// correlated SYSTEM_ERROR is returned as *RemoteError. Unrelated envelopes
// are passed to skipped when it is not nil.
func (c *Conn) WaitForReply(ctx context.Context, sent message.Envelope, skipped func(message.Envelope)) (message.Envelope, error) {
	for {
		envelope, err := c.Receive(ctx)
		if err != nil {
			return message.Envelope{}, err
		}
		if correlates(envelope, sent) {
			if envelope.Type == message.TypeSystemError {
				return envelope, remoteError(envelope)
			}
			return envelope, nil
		}
		if skipped != nil {
			skipped(envelope)
		}
	}
}

func correlates(envelope, sent message.Envelope) bool {
	if envelope.ID == sent.ID || envelope.CorrelationID == "" {
		return false
	}
	return envelope.CorrelationID == sent.ID || envelope.CorrelationID == sent.CorrelationID
}

func remoteError(envelope message.Envelope) *RemoteError {
	var payload struct {
		Error string `json:"error"`
	}
	_ = envelope.DecodePayload(&payload)
	return &RemoteError{Reason: payload.Error, CorrelationID: envelope.CorrelationID}
}

// Close sends a normal close frame and closes the socket.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
