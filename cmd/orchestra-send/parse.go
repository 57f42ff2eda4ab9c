package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"orchestra/internal/cli"
	"orchestra/internal/destination"
	"orchestra/internal/message"
)

const (
	defaultServerURL = "http://localhost:7777"
	defaultFrom      = destination.Dashboard
	defaultTimeout   = 30 * time.Second
)

type Config struct {
	URL           string
	Token         string
	From          string
	To            string
	Type          message.Type
	Payload       string
	CorrelationID string
	Wait          bool
	Timeout       time.Duration
	Verbose       bool
	ShowVersion   bool
}

func parseArgs(args []string, errOut io.Writer, lookupEnv func(string) (string, bool)) (Config, error) {
	fs := flag.NewFlagSet("orchestra-send", flag.ContinueOnError)
	fs.SetOutput(errOut)
	urlFlag := fs.String("url", "", "Server URL")
	tokenFlag := fs.String("token", "", "Auth token")
	fromFlag := fs.String("from", "", "Sender identity")
	typeFlag := fs.String("type", string(message.TypeTaskAssign), "Message type")
	payloadFlag := fs.String("payload", "", "JSON payload, read from stdin when empty")
	correlationFlag := fs.String("correlation-id", "", "Correlation id")
	waitFlag := fs.Bool("wait", false, "Wait for a correlated reply over websocket")
	timeoutFlag := fs.Duration("timeout", defaultTimeout, "Reply timeout")
	verboseFlag := fs.Bool("verbose", false, "Verbose output")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show this help message", "Print version and exit")
	fs.Usage = func() {
		printSendHelp(fs.Output())
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if helpVersion.Help {
		fs.Usage()
		return Config{}, flag.ErrHelp
	}
	if helpVersion.Version {
		return Config{ShowVersion: true}, nil
	}

	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		fs.Usage()
		return Config{}, fmt.Errorf("destination required")
	}

	kind := strings.ToUpper(strings.TrimSpace(*typeFlag))
	if !message.IsKnownType(kind) {
		return Config{}, fmt.Errorf("unknown message type %q", *typeFlag)
	}

	from := strings.TrimSpace(*fromFlag)
	if from == "" {
		if *waitFlag {
			return Config{}, fmt.Errorf("--from is required with --wait")
		}
		from = defaultFrom
	}
	if *timeoutFlag <= 0 {
		return Config{}, fmt.Errorf("--timeout must be positive")
	}

	return Config{
		URL:           firstNonEmpty(*urlFlag, envValue(lookupEnv, "ORCHESTRA_URL"), defaultServerURL),
		Token:         firstNonEmpty(*tokenFlag, envValue(lookupEnv, "ORCHESTRA_TOKEN")),
		From:          from,
		To:            strings.TrimSpace(fs.Arg(0)),
		Type:          message.Type(kind),
		Payload:       strings.TrimSpace(*payloadFlag),
		CorrelationID: strings.TrimSpace(*correlationFlag),
		Wait:          *waitFlag,
		Timeout:       *timeoutFlag,
		Verbose:       *verboseFlag,
	}, nil
}

func envValue(lookupEnv func(string) (string, bool), key string) string {
	if lookupEnv == nil {
		return ""
	}
	value, _ := lookupEnv(key)
	return value
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func printSendHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: orchestra-send [options] <destination>")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Send one message through a running orchestra bus")
	cli.WriteOptionGroup(out, "Options", []cli.HelpOption{
		{Name: "--url URL", Desc: "Server URL (env: ORCHESTRA_URL, default: " + defaultServerURL + ")"},
		{Name: "--token TOKEN", Desc: "Auth token (env: ORCHESTRA_TOKEN, default: none)"},
		{Name: "--from ID", Desc: "Sender identity (default: " + defaultFrom + ", required with --wait)"},
		{Name: "--type TYPE", Desc: "Message type (default: " + string(message.TypeTaskAssign) + ")"},
		{Name: "--payload JSON", Desc: "JSON payload, read from stdin when empty"},
		{Name: "--correlation-id ID", Desc: "Correlation id (default: generated)"},
		{Name: "--wait", Desc: "Connect as --from and print the correlated reply"},
		{Name: "--timeout DURATION", Desc: "Reply timeout (default: 30s)"},
		{Name: "--verbose", Desc: "Show the sent envelope"},
		{Name: "--help", Desc: "Show this help message"},
		{Name: "--version", Desc: "Print version and exit"},
	})
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Destinations:")
	fmt.Fprintln(out, "  conductor, dashboard, broadcast, all-agents, agent-<id>")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Examples:")
	fmt.Fprintln(out, "  echo '{\"task\":\"build\"}' | orchestra-send agent-7")
	fmt.Fprintln(out, "  orchestra-send --from agent-7 --type CONDUCTOR_QUERY --payload '{\"q\":\"next\"}' --wait conductor")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Exit codes:")
	fmt.Fprintln(out, "  0  Success")
	fmt.Fprintln(out, "  1  Usage error")
	fmt.Fprintln(out, "  2  Message rejected by the server")
	fmt.Fprintln(out, "  3  Network or server error")
}
