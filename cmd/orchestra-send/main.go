package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"orchestra/internal/cli"
	"orchestra/internal/client"
	"orchestra/internal/jsoncodec"
	"orchestra/internal/message"
)

const (
	exitOK       = 0
	exitUsage    = 1
	exitRejected = 2
	exitNetwork  = 3
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

type sendError struct {
	Code    int
	Message string
}

func (e *sendError) Error() string {
	return e.Message
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, in io.Reader, out, errOut io.Writer) int {
	cfg, err := parseArgs(args, errOut, os.LookupEnv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(errOut, "orchestra-send: %v\n", err)
		return exitUsage
	}
	if cfg.ShowVersion {
		cli.PrintVersion(out)
		return exitOK
	}
	if err := send(context.Background(), cfg, in, out, errOut); err != nil {
		return handleSendError(err, errOut)
	}
	return exitOK
}

func send(ctx context.Context, cfg Config, in io.Reader, out, errOut io.Writer) error {
	payload, err := readPayload(cfg.Payload, in)
	if err != nil {
		return &sendError{Code: exitUsage, Message: err.Error()}
	}
	envelope, err := message.CreateMessage(cfg.From, cfg.To, cfg.Type, payload, cfg.CorrelationID)
	if err != nil {
		return &sendError{Code: exitUsage, Message: err.Error()}
	}
	if cfg.Verbose {
		if encoded, err := envelope.Encode(); err == nil {
			fmt.Fprintf(errOut, "sending %s\n", encoded)
		}
	}
	if cfg.Wait {
		return sendAndWait(ctx, cfg, envelope, out, errOut)
	}

	result, err := client.PostMessage(httpClient, cfg.URL, cfg.Token, envelope)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s delivered=%d sequence=%d\n", result.ID, result.Delivered, result.Sequence)
	for _, warning := range result.Warnings {
		fmt.Fprintf(errOut, "warning: %s\n", warning)
	}
	return nil
}

func sendAndWait(ctx context.Context, cfg Config, envelope message.Envelope, out, errOut io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	conn, err := client.Dial(ctx, client.DialOptions{
		URL:      cfg.URL,
		Identity: cfg.From,
		Token:    cfg.Token,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Send(envelope); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	reply, err := conn.WaitForReply(ctx, envelope, func(skipped message.Envelope) {
		if cfg.Verbose {
			fmt.Fprintf(errOut, "skipped %s from %s\n", skipped.Type, skipped.From)
		}
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &sendError{Code: exitNetwork, Message: "no reply within " + cfg.Timeout.String()}
		}
		return err
	}
	encoded, err := reply.Encode()
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	fmt.Fprintln(out, string(encoded))
	return nil
}

func readPayload(flagValue string, in io.Reader) (json.RawMessage, error) {
	raw := []byte(flagValue)
	if flagValue == "" && in != nil {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = []byte(strings.TrimSpace(string(data)))
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !jsoncodec.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid json")
	}
	return json.RawMessage(raw), nil
}

func handleSendError(err error, errOut io.Writer) int {
	var sendErr *sendError
	if errors.As(err, &sendErr) {
		fmt.Fprintf(errOut, "orchestra-send: %s\n", sendErr.Message)
		return sendErr.Code
	}
	var remoteErr *client.RemoteError
	if errors.As(err, &remoteErr) {
		fmt.Fprintf(errOut, "orchestra-send: server rejected message: %s\n", remoteErr.Reason)
		return exitRejected
	}
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		fmt.Fprintf(errOut, "orchestra-send: server returned %d: %s\n", httpErr.StatusCode, httpErr.Message)
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			return exitRejected
		}
		return exitNetwork
	}
	fmt.Fprintf(errOut, "orchestra-send: %v\n", err)
	return exitNetwork
}
